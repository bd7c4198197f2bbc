package txbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
)

// TransferBuilder builds plain token transfers to another address.
type TransferBuilder struct {
	tokens *registry.Registry
}

func NewTransferBuilder(tokens *registry.Registry) *TransferBuilder {
	return &TransferBuilder{tokens: tokens}
}

func (b *TransferBuilder) Kind() models.ActionKind {
	return models.ActionKindTransfer
}

func (b *TransferBuilder) Build(_ context.Context, action *models.Action, signerAddress string, balances Balances) (*models.TransactionPayload, error) {
	transfer := action.Transfer

	tokenHash, err := b.tokens.TokenHash(transfer.Token)
	if err != nil {
		return nil, err
	}

	decimals, err := b.tokens.TokenDecimals(transfer.Token)
	if err != nil {
		return nil, err
	}

	amount, err := resolveAmount(transfer.Amount, decimals, balances[transfer.Token])
	if err != nil {
		return nil, fmt.Errorf("transfer %s to %s: %w", transfer.Token, transfer.To, err)
	}

	now := time.Now().UTC()

	script, err := invocation{
		Contract: tokenHash,
		Method:   "transfer",
		Args:     []any{signerAddress, transfer.To, amount, nil},
	}.encode()
	if err != nil {
		return nil, err
	}

	return &models.TransactionPayload{
		ActionKind:         models.ActionKindTransfer,
		FromToken:          transfer.Token,
		AmountSmallestUnit: amount,
		Script:             script,
		BuiltAt:            now,
	}, nil
}
