package txbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
)

// invocation is the unsigned contract call a builder emits. The signer
// turns it into signed chain bytes; this pipeline treats the encoding as
// opaque beyond construction.
type invocation struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Args     []any  `json:"args"`
}

func (i invocation) encode() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("encode invocation: %w", err)
	}

	return data, nil
}

// swapDeadline bounds how long a built swap stays valid on-chain.
const swapDeadline = 5 * time.Minute

// SwapBuilder builds router swaps exchanging one token for another.
type SwapBuilder struct {
	tokens *registry.Registry
}

func NewSwapBuilder(tokens *registry.Registry) *SwapBuilder {
	return &SwapBuilder{tokens: tokens}
}

func (b *SwapBuilder) Kind() models.ActionKind {
	return models.ActionKindSwap
}

func (b *SwapBuilder) Build(_ context.Context, action *models.Action, signerAddress string, balances Balances) (*models.TransactionPayload, error) {
	swap := action.Swap

	if swap.FromToken == swap.ToToken {
		return nil, fmt.Errorf("%w: swap from and to token are the same", models.ErrInvalidAction)
	}

	fromHash, err := b.tokens.TokenHash(swap.FromToken)
	if err != nil {
		return nil, err
	}

	toHash, err := b.tokens.TokenHash(swap.ToToken)
	if err != nil {
		return nil, err
	}

	router, err := b.tokens.ContractAddress("swap-router")
	if err != nil {
		return nil, err
	}

	decimals, err := b.tokens.TokenDecimals(swap.FromToken)
	if err != nil {
		return nil, err
	}

	amount, err := resolveAmount(swap.Amount, decimals, balances[swap.FromToken])
	if err != nil {
		return nil, fmt.Errorf("swap %s->%s: %w", swap.FromToken, swap.ToToken, err)
	}

	now := time.Now().UTC()

	script, err := invocation{
		Contract: router,
		Method:   "swapTokenInForTokenOut",
		Args: []any{
			signerAddress,
			fromHash,
			toHash,
			amount,
			int64(0), // min return resolved by the router at execution
			now.Add(swapDeadline).UnixMilli(),
		},
	}.encode()
	if err != nil {
		return nil, err
	}

	return &models.TransactionPayload{
		ActionKind:         models.ActionKindSwap,
		FromToken:          swap.FromToken,
		ToToken:            swap.ToToken,
		AmountSmallestUnit: amount,
		Script:             script,
		BuiltAt:            now,
	}, nil
}
