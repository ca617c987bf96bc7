package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/config"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/capture"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/materialize"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/replay"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/timeline"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "scenario-engine",
		Short:        "Healthcare scenario engine: materialize, capture and replay PAM scenarios",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(materializeCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(receiverCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.DBSchema
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, "", cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the template catalog",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert catalog templates that are not stored yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			templates, err := loadTemplates(file)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.scenarios.SeedCatalog(ctx, templates)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d of %d template(s).\n", created, len(templates))
			return nil
		},
	}
	seedCmd.Flags().String("file", "", "YAML catalog to load instead of the embedded one")
	cmd.AddCommand(seedCmd)
	return cmd
}

func loadTemplates(file string) ([]scenario.Template, error) {
	if file == "" {
		return scenario.DefaultCatalog()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return scenario.LoadCatalog(data)
}

func materializeCmd() *cobra.Command {
	var (
		opts     materialize.Options
		caseID   string
		entityID string
	)
	cmd := &cobra.Command{
		Use:   "materialize <template-key>",
		Short: "Build a concrete scenario from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.CaseID, err = optionalUUID("case", caseID); err != nil {
				return err
			}
			if opts.EntityID, err = optionalUUID("entity", entityID); err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.materializer.Materialize(ctx, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Materialized scenario %s (%s) with %d step(s).\n", sc.Key, sc.ID, len(sc.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Protocol, "protocol", scenario.ProtocolLegacy, "legacy or bundle")
	cmd.Flags().BoolVar(&opts.GenerateIdentifiers, "generate-ids", false, "Draw patient and visit numbers now")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Scenario name")
	cmd.Flags().StringVar(&caseID, "case", "", "Demonstration case to draw demographics from")
	cmd.Flags().StringVar(&entityID, "entity", "", "Juridical entity context")
	return cmd
}

func captureCmd() *cobra.Command {
	var opts capture.Options
	cmd := &cobra.Command{
		Use:   "capture <case-id>",
		Short: "Snapshot a demonstration case into a replayable scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid case id %q", args[0])
			}

			ctx := context.Background()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.capturer.Capture(ctx, caseID, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Captured scenario %s (%s) with %d step(s).\n", sc.Key, sc.ID, len(sc.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Key, "key", "", "Scenario key")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Scenario name")
	return cmd
}

func replayCmd() *cobra.Command {
	var (
		opts  replay.Options
		dests []string
	)
	cmd := &cobra.Command{
		Use:   "replay <scenario>",
		Short: "Replay a scenario against one or more destinations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.scenarios.ResolveScenario(ctx, args[0])
			if err != nil {
				return err
			}
			targets := make([]*destination.Destination, 0, len(dests))
			for _, ref := range dests {
				d, err := a.destinations.ResolveDestination(ctx, strings.TrimSpace(ref))
				if err != nil {
					return err
				}
				targets = append(targets, d)
			}

			runs, err := a.manager.ReplayAll(ctx, sc, targets, opts)
			for _, r := range runs {
				fmt.Printf("Run %s: %s (%d sent, %d errors, %d skipped of %d)\n",
					r.ID, r.Status, r.SuccessSteps, r.ErrorSteps, r.SkippedSteps, r.TotalSteps)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&dests, "destinations", nil, "Destination names or ids, comma separated")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Log steps without sending")
	cmd.Flags().BoolVar(&opts.Immediate, "immediate", false, "Ignore delays between steps")
	cmd.Flags().BoolVar(&opts.ShiftTime, "shift-time", false, "Move timestamps onto the scenario anchor")
	cmd.Flags().IntVar(&opts.StartIndex, "start-index", 0, "Order index to start from")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <scenario>",
		Short: "Write a scenario as a portable JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.scenarios.ResolveScenario(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := a.scenarios.ExportScenario(ctx, sc.ID)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (stdout when empty)")
	return cmd
}

func importCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a scenario from a portable JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			ctx := context.Background()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sc, err := a.scenarios.ImportScenario(ctx, data, key)
			if err != nil {
				return err
			}
			fmt.Printf("Imported scenario %s (%s) with %d step(s).\n", sc.Key, sc.ID, len(sc.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Override the document key")
	return cmd
}

func receiverCmd() *cobra.Command {
	var (
		addr   string
		record bool
	)
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Acknowledge every MLLP message with AA (local demos only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			logger := newLogger(os.Getenv("ENV"))
			handler := hl7v2.AcceptAllHandler()

			if record {
				a, err := openApp(ctx, nil)
				if err != nil {
					return err
				}
				defer a.Close()
				if addr == "" {
					addr = a.cfg.MLLPReceiverAddr
				}
				handler = recordingHandler(a.timeline, handler, a.logger)
			}
			if addr == "" {
				addr = ":2575"
			}

			server := hl7v2.NewMLLPServer(addr, handler, logger)
			if err := server.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info().Msg("stopping receiver")
			return server.Stop()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to MLLP_RECEIVER_ADDR or :2575)")
	cmd.Flags().BoolVar(&record, "record", false, "Store received messages as inbound messages for capture")
	return cmd
}

// recordingHandler stores every received message before answering it with
// next.
func recordingHandler(tl *timeline.Service, next hl7v2.MessageHandler, logger zerolog.Logger) hl7v2.MessageHandler {
	return func(msg *hl7v2.Message) *hl7v2.Message {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := tl.RecordInbound(ctx, hl7v2.SerializeMessage(msg), time.Now().UTC()); err != nil {
			logger.Error().Err(err).Str("control_id", msg.ControlID).Msg("recording inbound message")
		}
		return next(msg)
	}
}

func optionalUUID(name, v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s id %q", name, v)
	}
	return &id, nil
}
