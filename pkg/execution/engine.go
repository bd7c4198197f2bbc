// Package execution broadcasts signed transactions, waits for chain
// confirmation and keeps a durable history of every firing step.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/triggerfi/chainflow/pkg/gateway"
	"github.com/triggerfi/chainflow/pkg/models"
)

const (
	DefaultConfirmTimeout   = 120 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultMinConfirmations = int64(1)
)

// ExecuteOptions tune a single execution. Zero values fall back to the
// package defaults.
type ExecuteOptions struct {
	WaitForConfirmation bool
	MinConfirmations    int64
	ConfirmTimeout      time.Duration
	PollInterval        time.Duration
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		WaitForConfirmation: true,
		MinConfirmations:    DefaultMinConfirmations,
		ConfirmTimeout:      DefaultConfirmTimeout,
		PollInterval:        DefaultPollInterval,
	}
}

func (o *ExecuteOptions) normalize() {
	if o.MinConfirmations <= 0 {
		o.MinConfirmations = DefaultMinConfirmations
	}

	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// Engine drives a signed transaction through broadcast and confirmation.
type Engine struct {
	gw     gateway.Gateway
	logger *slog.Logger
}

func NewEngine(gw gateway.Gateway, logger *slog.Logger) *Engine {
	return &Engine{
		gw:     gw,
		logger: logger.With("module", "execution"),
	}
}

// Broadcast submits signed bytes and returns the node-assigned
// transaction id. Node rejections come back as *BroadcastError with the
// classification intact; connection failures are returned unwrapped so
// the caller can tell the two apart.
func (e *Engine) Broadcast(ctx context.Context, signed []byte) (string, error) {
	if len(signed) == 0 {
		return "", &BroadcastError{Kind: BroadcastInvalid, Message: "empty signed transaction"}
	}

	if len(signed) > MaxTransactionSize {
		return "", fmt.Errorf("%w: %d bytes over %d limit", ErrPayloadTooLarge, len(signed), MaxTransactionSize)
	}

	txID, err := e.gw.SendRawTransaction(ctx, signed)
	if err != nil {
		var rpcErr *gateway.RPCError
		if errors.As(err, &rpcErr) {
			kind := classifyBroadcast(rpcErr.Message)
			e.logger.Warn("Node rejected transaction", "kind", kind, "error", rpcErr.Message)

			return "", &BroadcastError{Kind: kind, Message: rpcErr.Message}
		}

		return "", fmt.Errorf("broadcast transaction: %w", err)
	}

	e.logger.Info("Transaction broadcast", "tx_id", txID, "size_bytes", len(signed))

	return txID, nil
}

// WaitForConfirmation polls until the transaction has the requested
// number of confirmations or the timeout budget runs out. A transaction
// absent from every block keeps the poll alive, as do transient
// connection errors; any other node error propagates immediately.
func (e *Engine) WaitForConfirmation(ctx context.Context, txID string, opts ExecuteOptions) (*models.TransactionResult, error) {
	opts.normalize()

	waitCtx, cancel := context.WithTimeout(ctx, opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		result, done, err := e.pollOnce(waitCtx, txID, opts.MinConfirmations)
		if err != nil {
			return nil, err
		}

		if done {
			e.logger.Info("Transaction confirmed",
				"tx_id", txID,
				"height", *result.IncludedBlockHeight,
				"confirmations", result.Confirmations)

			return result, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, txID, opts.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context, txID string, minConfirmations int64) (*models.TransactionResult, bool, error) {
	inclusion, err := e.gw.TransactionHeight(ctx, txID)
	if err != nil {
		return nil, false, e.swallowTransient(ctx, txID, err)
	}

	count, err := e.gw.BlockCount(ctx)
	if err != nil {
		return nil, false, e.swallowTransient(ctx, txID, err)
	}

	height := count - 1
	confirmations := height - inclusion + 1
	if confirmations < minConfirmations {
		return nil, false, nil
	}

	return &models.TransactionResult{
		TxID:                txID,
		IncludedBlockHeight: &inclusion,
		Confirmations:       confirmations,
		ObservedAt:          time.Now().UTC(),
	}, true, nil
}

// swallowTransient converts the retryable polling failures to nil so the
// caller keeps polling. Pending transactions and unreachable endpoints
// are retryable; node-reported errors are not.
func (e *Engine) swallowTransient(ctx context.Context, txID string, err error) error {
	if errors.Is(err, gateway.ErrTransactionNotFound) {
		return nil
	}

	if gateway.IsConnError(err) && ctx.Err() == nil {
		e.logger.Warn("Transient error while polling confirmation", "tx_id", txID, "error", err)

		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrConfirmationTimeout, txID)
	}

	return fmt.Errorf("poll confirmation for %s: %w", txID, err)
}

// Execute composes Broadcast with an optional confirmation wait. With
// WaitForConfirmation disabled the result carries the tx id and zero
// confirmations for callers that track confirmation themselves.
func (e *Engine) Execute(ctx context.Context, signed []byte, opts ExecuteOptions) (*models.TransactionResult, error) {
	txID, err := e.Broadcast(ctx, signed)
	if err != nil {
		return nil, err
	}

	if !opts.WaitForConfirmation {
		return &models.TransactionResult{
			TxID:       txID,
			ObservedAt: time.Now().UTC(),
		}, nil
	}

	return e.WaitForConfirmation(ctx, txID, opts)
}
