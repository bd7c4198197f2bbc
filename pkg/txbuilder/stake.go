package txbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
)

// StakeBuilder builds deposits into a staking pool contract.
type StakeBuilder struct {
	tokens *registry.Registry
}

func NewStakeBuilder(tokens *registry.Registry) *StakeBuilder {
	return &StakeBuilder{tokens: tokens}
}

func (b *StakeBuilder) Kind() models.ActionKind {
	return models.ActionKindStake
}

func (b *StakeBuilder) Build(_ context.Context, action *models.Action, signerAddress string, balances Balances) (*models.TransactionPayload, error) {
	stake := action.Stake

	tokenHash, err := b.tokens.TokenHash(stake.Token)
	if err != nil {
		return nil, err
	}

	pool, err := b.tokens.ContractAddress(stake.Pool)
	if err != nil {
		return nil, err
	}

	decimals, err := b.tokens.TokenDecimals(stake.Token)
	if err != nil {
		return nil, err
	}

	amount, err := resolveAmount(stake.Amount, decimals, balances[stake.Token])
	if err != nil {
		return nil, fmt.Errorf("stake %s into %s: %w", stake.Token, stake.Pool, err)
	}

	now := time.Now().UTC()

	script, err := invocation{
		Contract: pool,
		Method:   "stake",
		Args:     []any{signerAddress, tokenHash, amount},
	}.encode()
	if err != nil {
		return nil, err
	}

	return &models.TransactionPayload{
		ActionKind:         models.ActionKindStake,
		FromToken:          stake.Token,
		AmountSmallestUnit: amount,
		Script:             script,
		BuiltAt:            now,
	}, nil
}
