package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/capture"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/materialize"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/replay"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/timeline"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/auth"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/middleware"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/telemetry"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/websocket"
)

const version = "0.1.0"

func runServer() error {
	ctx, stop := signalContext()
	defer stop()

	hub := websocket.NewHub(newLogger(os.Getenv("ENV")))
	defer hub.Close()
	a, err := openApp(ctx, hub)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	cfg := a.cfg
	logger.Info().Msg("connected to database")

	if a.redis != nil {
		// Runs of every instance reach the local stream through the bus.
		go func() {
			if err := a.redis.Subscribe(ctx, hub.Forward); err != nil {
				logger.Error().Err(err).Msg("run event subscription stopped")
			}
		}()
	}

	e, err := newServer(a, hub)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("runs still active at shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the middleware chain and every
// route of the API.
func newServer(a *app, hub *websocket.Hub) (*echo.Echo, error) {
	cfg := a.cfg
	logger := a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics, err := telemetry.HTTPMetrics(otel.Meter(telemetry.InstrumentationName))
	if err != nil {
		return nil, err
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics)
	e.Use(echomw.BodyLimit("4M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/health/ready", db.ReadinessHandler(map[string]db.Check{
		"database": a.pool.Ping,
	}))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	destination.NewHandler(a.destinations).RegisterRoutes(apiV1)
	timeline.NewHandler(a.timeline).RegisterRoutes(apiV1)
	scenario.NewHandler(a.scenarios).RegisterRoutes(apiV1)
	materialize.NewHandler(a.materializer).RegisterRoutes(apiV1)
	capture.NewHandler(a.capturer).RegisterRoutes(apiV1)
	replay.NewHandler(a.scenarios, a.destinations, a.manager).RegisterRoutes(apiV1)
	websocket.NewHandler(hub).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RoleViewer)))

	hl7Group := apiV1.Group("", auth.RequireRole(auth.RoleOperator))
	hl7v2.NewHandler(a.header(), cfg.StrictPAMProfile).RegisterRoutes(hl7Group)

	return e, nil
}
