package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/triggerfi/chainflow/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "chainflow",
		Usage:                 "Run the trigger evaluation and transaction execution pipeline",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "runner-id",
				Aliases: []string{"id"},
				Usage:   "Custom runner ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("CHAINFLOW_RUNNER_ID"),
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Chain network (mainnet, testnet)",
				Value:   "mainnet",
				Sources: cli.EnvVars("CHAINFLOW_NETWORK"),
			},
			&cli.StringSliceFlag{
				Name:     "rpc-endpoint",
				Usage:    "Chain RPC endpoint, primary first (repeatable)",
				Required: true,
				Sources:  cli.EnvVars("CHAINFLOW_RPC_ENDPOINTS"),
			},
			&cli.StringFlag{
				Name:     "signer-address",
				Usage:    "Address whose balances fund workflow actions",
				Required: true,
				Sources:  cli.EnvVars("CHAINFLOW_SIGNER_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory containing workflow definition documents",
				Value:   "./workflows",
				Sources: cli.EnvVars("CHAINFLOW_WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:    "state-path",
				Usage:   "Directory for durable trigger state records",
				Value:   "./data/triggerstate",
				Sources: cli.EnvVars("CHAINFLOW_STATE_PATH"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for trigger state (overrides state-path when set)",
				Value:   "",
				Sources: cli.EnvVars("CHAINFLOW_REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "history-path",
				Usage:   "SQLite file for execution history",
				Value:   "./data/history.db",
				Sources: cli.EnvVars("CHAINFLOW_HISTORY_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus channel (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("CHAINFLOW_EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "price-api-url",
				Usage:   "Market price API base URL (empty degrades to synthetic prices)",
				Value:   "",
				Sources: cli.EnvVars("CHAINFLOW_PRICE_API_URL"),
			},
			&cli.DurationFlag{
				Name:    "price-poll-interval",
				Usage:   "Default poll cadence for price triggers",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("CHAINFLOW_PRICE_POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "price-cache-ttl",
				Usage:   "Price cache freshness window",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("CHAINFLOW_PRICE_CACHE_TTL"),
			},
			&cli.IntFlag{
				Name:    "error-pause-threshold",
				Usage:   "Pause a trigger after this many consecutive evaluation errors (0 disables)",
				Value:   0,
				Sources: cli.EnvVars("CHAINFLOW_ERROR_PAUSE_THRESHOLD"),
			},
			&cli.IntFlag{
				Name:    "min-confirmations",
				Usage:   "Confirmations required before a step counts as executed",
				Value:   1,
				Sources: cli.EnvVars("CHAINFLOW_MIN_CONFIRMATIONS"),
			},
			&cli.DurationFlag{
				Name:    "confirmation-timeout",
				Usage:   "Wall-clock budget for the confirmation wait",
				Value:   120 * time.Second,
				Sources: cli.EnvVars("CHAINFLOW_CONFIRMATION_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces for firing sequences",
				Value:   false,
				Sources: cli.EnvVars("CHAINFLOW_TRACING"),
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

			runnerID := command.String("runner-id")
			if runnerID == "" {
				runnerID = fmt.Sprintf("runner-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("chainflow").With("runner_id", runnerID)
			logger.Info("Initializing chainflow runner")

			runner, err := NewRunner(ctx, runnerID, command, logger)
			if err != nil {
				return err
			}

			runner.Start(ctx)

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
