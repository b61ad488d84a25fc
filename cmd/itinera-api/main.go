package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/itinera/pkg/cmd"
	"github.com/dukex/itinera/pkg/gateway/whatsapp"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/otelhelper"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "itinera-api",
		Usage:                 "Manage journeys, enrollments and gateway callbacks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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

			logger := log.WithModule("api")

			tracerProvider, err := otelhelper.InitTracer(ctx, "itinera-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing Itinera API")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				"itinera-api",
				strings.Split(command.String("kafka-brokers"), ","),
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var testPhones []string
			if list := command.String("test-phone-numbers"); list != "" {
				testPhones = strings.Split(list, ",")
			}

			api := NewAPI(
				logger,
				persistence,
				eventBus,
				cmd.NewGateway(logger, whatsapp.Config{
					BaseURL:       command.String("gateway-base-url"),
					PhoneNumberID: command.String("gateway-phone-number-id"),
					AccessToken:   command.String("gateway-access-token"),
				}),
				cmd.NewLocker(command.String("redis-url")),
				cmd.NewDeduper(command.String("redis-url")),
				tracerProvider.Tracer("itinera-api"),
				command.Int("sweep-workers"),
				testPhones,
			)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
