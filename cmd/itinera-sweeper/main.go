package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/itinera/pkg/cmd"
	"github.com/dukex/itinera/pkg/gateway/whatsapp"
	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/otelhelper"
)

const defaultSweepInterval = time.Minute

func main() {
	command := &cli.Command{
		Name:                  "itinera-sweeper",
		Usage:                 "Start the Itinera sweep service",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sweeper-id",
				Aliases: []string{"id"},
				Usage:   "Custom sweeper ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SWEEPER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for cross-instance sweep locks and callback dedup",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "Time between sweep cycles",
				Value:   defaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "sweep-cron",
				Usage:   "Cron expression for the sweep cadence, overrides sweep-interval",
				Sources: cli.EnvVars("SWEEP_CRON"),
			},
			&cli.IntFlag{
				Name:    "sweep-workers",
				Usage:   "Concurrent journeys per sweep cycle",
				Value:   4,
				Sources: cli.EnvVars("SWEEP_WORKERS"),
			},
			&cli.StringFlag{
				Name:    "gateway-base-url",
				Usage:   "WhatsApp Cloud API base URL",
				Sources: cli.EnvVars("GATEWAY_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-phone-number-id",
				Usage:   "WhatsApp Business phone number ID",
				Sources: cli.EnvVars("GATEWAY_PHONE_NUMBER_ID"),
			},
			&cli.StringFlag{
				Name:    "gateway-access-token",
				Usage:   "WhatsApp Cloud API access token",
				Sources: cli.EnvVars("GATEWAY_ACCESS_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "test-phone-numbers",
				Usage:   "Comma-separated phone numbers every test-mode journey accepts",
				Sources: cli.EnvVars("TEST_PHONE_NUMBERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "itinera-sweeper")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					log.WithModule("itinera-sweeper").ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			sweeperID := command.String("sweeper-id")
			if sweeperID == "" {
				sweeperID = fmt.Sprintf("sweeper-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("itinera-sweeper").With("sweeper_id", sweeperID)

			logger.Info("Initializing Itinera Sweeper", "sweeper_id", sweeperID)

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			brokers := strings.Split(command.String("kafka-brokers"), ",")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "itinera-sweeper", brokers, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			customerBus := cmd.NewCustomerEventBus(command.String("event-bus"), "itinera-sweeper", brokers, logger)
			defer func() {
				if err := customerBus.Close(); err != nil {
					logger.Error("Failed to close customer event bus", "error", err)
				}
			}()

			gateway := cmd.NewGateway(logger, whatsapp.Config{
				BaseURL:       command.String("gateway-base-url"),
				PhoneNumberID: command.String("gateway-phone-number-id"),
				AccessToken:   command.String("gateway-access-token"),
			})

			var schedule cron.Schedule

			if expr := command.String("sweep-cron"); expr != "" {
				parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

				schedule, err = parser.Parse(expr)
				if err != nil {
					return fmt.Errorf("failed to parse sweep cron %q: %w", expr, err)
				}
			}

			var testPhones []string
			if list := command.String("test-phone-numbers"); list != "" {
				testPhones = strings.Split(list, ",")
			}

			tracer := tracerProvider.Tracer("itinera-sweeper")

			resolver := journey.NewResolver(logger, persistence)
			enroller := journey.NewEnroller(logger, persistence, eventBus, testPhones)
			walker := journey.NewWalker(logger, persistence, gateway, eventBus)
			driver := journey.NewDriver(
				logger,
				persistence,
				resolver,
				enroller,
				walker,
				cmd.NewLocker(command.String("redis-url")),
				eventBus,
				tracer,
				command.Int("sweep-workers"),
			)

			sweeper := NewSweeper(
				sweeperID,
				driver,
				journey.NewCalendar(logger, persistence, resolver, enroller, walker),
				journey.NewListener(logger, persistence, enroller, walker),
				customerBus,
				tracer,
				logger,
				command.Duration("sweep-interval"),
				schedule,
			)

			sweeper.Start(ctx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
