package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	cli "github.com/urfave/cli/v3"

	"github.com/triggerfi/chainflow/pkg/channels/gochannel"
	"github.com/triggerfi/chainflow/pkg/channels/kafka"
	"github.com/triggerfi/chainflow/pkg/eventbus"
	"github.com/triggerfi/chainflow/pkg/execution"
	"github.com/triggerfi/chainflow/pkg/gateway"
	"github.com/triggerfi/chainflow/pkg/otelhelper"
	"github.com/triggerfi/chainflow/pkg/pricefeed"
	"github.com/triggerfi/chainflow/pkg/registry"
	"github.com/triggerfi/chainflow/pkg/scheduler"
	"github.com/triggerfi/chainflow/pkg/signer"
	"github.com/triggerfi/chainflow/pkg/triggerstate"
	"github.com/triggerfi/chainflow/pkg/txbuilder"
	"github.com/triggerfi/chainflow/pkg/workflow"
)

const rpcTimeout = 15 * time.Second

// Runner is the composition root: it owns every pipeline component and
// their shutdown order.
type Runner struct {
	id        string
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	monitor   *pricefeed.Monitor
	pool      *signer.Pool
	states    triggerstate.Store
	history   *execution.History
	bus       eventbus.EventBus
}

func NewRunner(ctx context.Context, runnerID string, command *cli.Command, logger *slog.Logger) (*Runner, error) {
	network := registry.Network(command.String("network"))

	tokens, err := registry.New(network)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewClient(command.StringSlice("rpc-endpoint"), rpcTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("create rpc gateway: %w", err)
	}

	states, err := newStateStore(ctx, command, logger)
	if err != nil {
		return nil, err
	}

	workflows, err := workflow.NewFileRepository(command.String("workflows-path"), logger)
	if err != nil {
		return nil, err
	}

	historyPath := command.String("history-path")

	history, err := execution.OpenHistory(historyPath, filepath.Join(filepath.Dir(historyPath), "history.lock"))
	if err != nil {
		return nil, err
	}

	bus, err := newEventBus(command.String("event-bus"), logger)
	if err != nil {
		return nil, err
	}

	source := pricefeed.NewMarketSource(command.String("price-api-url"), rpcTimeout, logger)
	monitor := pricefeed.NewMonitor(source, tokens.SupportedTokens(), pricefeed.Config{
		CacheTTL:     command.Duration("price-cache-ttl"),
		PollInterval: command.Duration("price-poll-interval"),
	}, logger)

	pool := signer.NewPool(signer.NewLocalSigner(command.String("signer-address")), signer.DefaultWorkers, logger)

	deps := scheduler.Deps{
		Workflows: workflows,
		States:    states,
		Monitor:   monitor,
		Builders:  txbuilder.NewRegistry(tokens),
		Signer:    pool,
		Engine:    execution.NewEngine(gw, logger),
		Balances:  gw,
		Registry:  tokens,
		History:   history,
		EventBus:  bus,
	}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "chainflow")
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}

		deps.Tracer = tracer
	}

	cfg := scheduler.Config{
		PricePollInterval:   command.Duration("price-poll-interval"),
		ErrorPauseThreshold: int(command.Int("error-pause-threshold")),
		Execute: execution.ExecuteOptions{
			WaitForConfirmation: true,
			MinConfirmations:    int64(command.Int("min-confirmations")),
			ConfirmTimeout:      command.Duration("confirmation-timeout"),
			PollInterval:        execution.DefaultPollInterval,
		},
	}

	return &Runner{
		id:        runnerID,
		logger:    logger,
		scheduler: scheduler.New(deps, cfg, logger),
		monitor:   monitor,
		pool:      pool,
		states:    states,
		history:   history,
		bus:       bus,
	}, nil
}

// Start recovers persisted triggers and blocks until a shutdown signal.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.handleSignals(cancel)

	recovered, err := r.scheduler.Recover(runCtx)
	if err != nil {
		r.logger.Error("Trigger recovery failed", "error", err)
	}

	r.logger.Info("Chainflow runner started", "triggers", recovered)

	<-runCtx.Done()
	r.stop()
}

func (r *Runner) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		r.logger.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()
}

// stop tears components down in dependency order: no new firings, then
// no new signatures, then the stores.
func (r *Runner) stop() {
	r.scheduler.Close()
	r.monitor.Close()
	r.pool.Close()

	if err := r.bus.Close(); err != nil {
		r.logger.Error("Failed to close event bus", "error", err)
	}

	if err := r.history.Close(); err != nil {
		r.logger.Error("Failed to close execution history", "error", err)
	}

	if err := r.states.Close(); err != nil {
		r.logger.Error("Failed to close trigger state store", "error", err)
	}

	r.logger.Info("Chainflow runner stopped")
}

func newStateStore(ctx context.Context, command *cli.Command, logger *slog.Logger) (triggerstate.Store, error) {
	if url := command.String("redis-url"); url != "" {
		return triggerstate.NewRedisStore(ctx, url, logger)
	}

	return triggerstate.NewFileStore(command.String("state-path"), logger)
}

func newEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "chainflow")
		if err != nil {
			return nil, fmt.Errorf("create kafka channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create gochannel channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
