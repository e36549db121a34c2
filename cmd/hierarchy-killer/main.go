package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/hierarchy-killer/pkg/audit"
	"github.com/dukex/hierarchy-killer/pkg/cmd"
	"github.com/dukex/hierarchy-killer/pkg/events"
	"github.com/dukex/hierarchy-killer/pkg/hierarchy"
	"github.com/dukex/hierarchy-killer/pkg/hostbridge"
	"github.com/dukex/hierarchy-killer/pkg/log"
	"github.com/dukex/hierarchy-killer/pkg/otelhelper"
	"github.com/dukex/hierarchy-killer/pkg/reporter"
	"github.com/dukex/hierarchy-killer/pkg/web"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "hierarchy-killer"

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus provider (kafka, gochannel). Run a single instance per lifecycle topic, tracking state is not shared",
			Value:   "kafka",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma-separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL holding the executing set and the pending queue",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Usage:   "Prefix of the Redis keys shared with the build host",
			Value:   hostbridge.DefaultPrefix,
			Sources: cli.EnvVars("REDIS_PREFIX"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Abort ledger URL (file://path or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func main() {
	flags := append(connectionFlags(),
		&cli.StringFlag{
			Name:    "manager-id",
			Aliases: []string{"id"},
			Usage:   "Custom instance ID (auto-generated if not provided)",
			Sources: cli.EnvVars("HIERARCHY_KILLER_ID"),
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port of the admin API, 0 disables it",
			Value:   9095,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "stats-schedule",
			Usage:   "Cron schedule of the periodic stats log line",
			Value:   reporter.DefaultSchedule,
			Sources: cli.EnvVars("STATS_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Abort related runs when a run in a tracked hierarchy fails",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewCheckCommand(),
		},
		Flags:  flags,
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("hierarchy-killer failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	managerID := command.String("manager-id")
	if managerID == "" {
		managerID = fmt.Sprintf("hierarchy-killer-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule(serviceName).With("manager_id", managerID)

	trackerOpts := []hierarchy.Option{hierarchy.WithLogger(logger)}

	if command.Bool("tracing") {
		tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()

		trackerOpts = append(trackerOpts, hierarchy.WithTracer(tracer))
	}

	bus, err := cmd.NewEventBus(cmd.EventBusOptions{
		Provider: command.String("event-bus"),
		Brokers:  command.String("kafka-brokers"),
		Topic:    events.LifecycleTopic,
	}, logger)
	if err != nil {
		return err
	}

	redisClient, err := hostbridge.Connect(ctx, command.String("redis-url"))
	if err != nil {
		_ = bus.Close()

		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", "error", err)
		}
	}()

	ledger, err := cmd.NewLedger(ctx, logger, command.String("database-url"))
	if err != nil {
		_ = bus.Close()

		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close ledger", "error", err)
		}
	}()

	bridge := hostbridge.NewBridge(redisClient, bus, command.String("redis-prefix"), logger)
	trackerOpts = append(trackerOpts, hierarchy.WithObserver(audit.NewRecorder(ledger, bus, logger)))
	tracker := hierarchy.NewTracker(bridge, trackerOpts...)

	statsReporter, err := reporter.NewReporter(tracker, command.String("stats-schedule"), logger)
	if err != nil {
		_ = bus.Close()

		return err
	}

	manager := NewManager(
		managerID,
		bus,
		hostbridge.NewDispatcher(bridge, tracker, logger),
		tracker,
		statsReporter,
		web.NewAPI(logger, tracker, ledger, bus),
		int(command.Int("port")),
		logger,
	)

	return manager.Run(ctx)
}
