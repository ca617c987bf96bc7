package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/config"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/capture"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/materialize"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/replay"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/timeline"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/events"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sandbox"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/telemetry"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/webhook"
)

// app holds the services shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	destinations *destination.Service
	timeline     *timeline.Service
	scenarios    *scenario.Service
	materializer *materialize.Materializer
	capturer     *capture.Capturer
	executor     *replay.Executor
	manager      *replay.Manager
	publisher    events.Publisher
	redis        *events.RedisPublisher
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp connects to the database and wires the domain services. Run events
// go to Redis when REDIS_URL is set, otherwise to local when it is not nil.
func openApp(ctx context.Context, local events.Publisher) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Env)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		destinations: destination.NewService(destination.NewRepo(pool)),
		timeline:     timeline.NewService(timeline.NewRepo(pool)),
		scenarios:    scenario.NewService(scenario.NewRepo(pool)),
		publisher:    events.Noop{},
	}

	if cfg.RedisURL != "" {
		pub, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.RunEventsChannel)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.publisher = pub
		a.redis = pub
		logger.Info().Str("channel", cfg.RunEventsChannel).Msg("publishing run events to redis")
	} else if local != nil {
		a.publisher = local
	}

	if len(cfg.WebhookURLs) > 0 {
		notifier, err := webhook.New(webhook.Options{
			URLs:    cfg.WebhookURLs,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.SendTimeout,
			Retries: 2,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = events.Multi{a.publisher, notifier}
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Msg("run webhooks enabled")
	}

	metrics, err := telemetry.Global()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	seq := sequence.NewPG(pool)
	a.materializer = materialize.New(a.scenarios, a.timeline, seq, sandbox.NewDataGenerator(0), materialize.Defaults{
		SendingApplication: cfg.SendingApp,
		SendingFacility:    cfg.SendingFacility,
		NamespaceRoot:      cfg.NamespaceRoot,
		StrictProfile:      cfg.StrictPAMProfile,
	})
	a.capturer = capture.New(a.timeline, a.scenarios, capture.Defaults{
		SendingApplication: cfg.SendingApp,
		SendingFacility:    cfg.SendingFacility,
		StrictProfile:      cfg.StrictPAMProfile,
	}, logger)
	a.executor = replay.NewExecutor(replay.Deps{
		Store: a.scenarios.Store(),
		Sender: transport.NewRouter(map[string]transport.Sender{
			transport.KindMLLP: transport.NewMLLPSender(cfg.SendTimeout),
			transport.KindFHIR: transport.NewHTTPSender(cfg.SendTimeout),
		}),
		Sequence:      seq,
		Publisher:     a.publisher,
		Metrics:       metrics,
		StrictDefault: cfg.StrictPAMProfile,
		Logger:        logger,
	})
	a.manager = replay.NewManager(a.executor, a.scenarios.Store(), cfg.MaxConcurrentRuns, logger)
	return a, nil
}

func (a *app) header() hl7v2.Header {
	return hl7v2.Header{SendingApplication: a.cfg.SendingApp, SendingFacility: a.cfg.SendingFacility}
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing event publisher")
	}
	a.pool.Close()
}
