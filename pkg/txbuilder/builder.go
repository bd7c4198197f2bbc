// Package txbuilder translates validated workflow actions into unsigned,
// chain-specific transaction payloads. One builder exists per action kind;
// dispatch is by the action's tag. Builders are stateless: the same
// logical action may build a different payload each time because balances
// are resolved at build time.
package txbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownActionKind   = errors.New("no builder for action kind")
)

// Balances maps token symbol to the signer's smallest-unit balance at
// build time.
type Balances map[string]int64

// Builder produces an unsigned transaction payload for one action kind.
type Builder interface {
	Kind() models.ActionKind
	Build(ctx context.Context, action *models.Action, signerAddress string, balances Balances) (*models.TransactionPayload, error)
}

// Registry dispatches actions to their kind's builder.
type Registry struct {
	builders map[models.ActionKind]Builder
}

// NewRegistry creates a builder registry with the three standard builders
// wired against the given token registry.
func NewRegistry(tokens *registry.Registry) *Registry {
	r := &Registry{builders: make(map[models.ActionKind]Builder)}

	r.Register(NewSwapBuilder(tokens))
	r.Register(NewStakeBuilder(tokens))
	r.Register(NewTransferBuilder(tokens))

	return r
}

// Register adds or replaces the builder for its kind.
func (r *Registry) Register(b Builder) {
	r.builders[b.Kind()] = b
}

// ForKind returns the builder for an action kind.
func (r *Registry) ForKind(kind models.ActionKind) (Builder, error) {
	b, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}

	return b, nil
}

// Build validates the action and dispatches it to its builder.
func (r *Registry) Build(ctx context.Context, action *models.Action, signerAddress string, balances Balances) (*models.TransactionPayload, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	b, err := r.ForKind(action.Kind)
	if err != nil {
		return nil, err
	}

	return b.Build(ctx, action, signerAddress, balances)
}
