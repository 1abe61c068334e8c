// Package main provides the taskflow API server.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/taskflow/pkg/cmd"
	"github.com/dukex/taskflow/pkg/identity"
	"github.com/dukex/taskflow/pkg/log"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/dukex/taskflow/pkg/services"
	"github.com/dukex/taskflow/pkg/sla"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "taskflow-api"
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run workflow templates, instances and tasks",
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
				Usage:    "Database connection URL for persistence (postgres:// or file://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the per-instance branching lock; empty uses an in-process lock",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "sla-schedule",
				Usage:   "Cron schedule of the overdue task sweep; \"off\" disables it",
				Value:   sla.DefaultSchedule,
				Sources: cli.EnvVars("SLA_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "manager-roles",
				Usage:   "Comma separated roles allowed to create tasks for any role",
				Sources: cli.EnvVars("MANAGER_ROLES"),
			},
			&cli.BoolFlag{
				Name:    "auto-assign",
				Usage:   "Assign new role tasks by round robin",
				Value:   true,
				Sources: cli.EnvVars("AUTO_ASSIGN"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing taskflow API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(
		command.String("event-bus"),
		command.String("kafka-brokers"),
		serviceName,
		command.Bool("otel-enabled"),
		logger,
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	err = registerNotifications(eventBus, log.WithModule("notifications"))
	if err != nil {
		return fmt.Errorf("failed to register notification handlers: %w", err)
	}

	err = eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	instanceLocker, closeLocker, err := cmd.NewLocker(ctx, command.String("redis-url"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeLocker(); err != nil {
			logger.ErrorContext(ctx, "Failed to close locker", "error", err)
		}
	}()

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		t, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = t
	}

	orchestrator := services.NewOrchestrator(persistence, logger,
		services.WithPublisher(eventBus),
		services.WithLocker(instanceLocker),
		services.WithTracer(tracer),
		services.WithAutoAssign(command.Bool("auto-assign")),
		services.WithPolicy(identity.RolePolicy{ManagerRoles: splitList(command.String("manager-roles"))}),
	)

	if schedule := command.String("sla-schedule"); schedule != "off" {
		monitor := sla.NewMonitor(persistence.TaskRepository(), eventBus, logger)

		err = monitor.Start(ctx, schedule)
		if err != nil {
			return err
		}

		defer func() {
			if err := monitor.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to stop SLA monitor", "error", err)
			}
		}()
	}

	api := NewAPI(logger, persistence, orchestrator)

	err = api.Start(command.Int("port"))
	if err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}

func splitList(value string) []string {
	items := make([]string, 0)

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
