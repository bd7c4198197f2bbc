package txbuilder

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/registry"
)

const signerAddr = "NUVPACMnKFhpuHjsRjhUvXz1XhqfGZYVtY"

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	tokens, err := registry.New(registry.NetworkMainnet)
	require.NoError(t, err)

	return NewRegistry(tokens)
}

func gas(amount float64) int64 {
	return int64(amount * 1e8)
}

func TestResolveAmount(t *testing.T) {
	tests := []struct {
		name     string
		spec     models.AmountSpec
		decimals int
		balance  int64
		expected int64
		wantErr  error
	}{
		{name: "decimal amount", spec: models.AmountSpec{Decimal: "1.5"}, decimals: 8, balance: gas(2), expected: 150000000},
		{name: "integer decimal", spec: models.AmountSpec{Decimal: "3"}, decimals: 0, balance: 5, expected: 3},
		{name: "full balance percentage", spec: models.AmountSpec{PctBalance: 100}, decimals: 8, balance: gas(2), expected: gas(2)},
		{name: "half balance percentage", spec: models.AmountSpec{PctBalance: 50}, decimals: 8, balance: gas(2), expected: gas(1)},
		{name: "zero decimal amount", spec: models.AmountSpec{Decimal: "0"}, decimals: 8, balance: gas(1), wantErr: ErrInvalidAmount},
		{name: "precision beyond decimals", spec: models.AmountSpec{Decimal: "0.5"}, decimals: 0, balance: 10, wantErr: ErrInvalidAmount},
		{name: "negative-looking input", spec: models.AmountSpec{Decimal: "-1"}, decimals: 8, balance: gas(1), wantErr: ErrInvalidAmount},
		{name: "insufficient balance", spec: models.AmountSpec{Decimal: "5"}, decimals: 8, balance: gas(1), wantErr: ErrInsufficientBalance},
		{name: "percentage of zero balance", spec: models.AmountSpec{PctBalance: 50}, decimals: 8, balance: 0, wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := resolveAmount(tt.spec, tt.decimals, tt.balance)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, amount)
		})
	}
}

func TestSwapBuild(t *testing.T) {
	builders := newTestRegistry(t)
	balances := Balances{"GAS": gas(10)}

	action := &models.Action{Kind: models.ActionKindSwap, Swap: &models.SwapAction{
		FromToken: "GAS",
		ToToken:   "FLM",
		Amount:    models.AmountSpec{Decimal: "2.5"},
	}}

	payload, err := builders.Build(context.Background(), action, signerAddr, balances)
	require.NoError(t, err)

	assert.Equal(t, models.ActionKindSwap, payload.ActionKind)
	assert.Equal(t, "GAS", payload.FromToken)
	assert.Equal(t, "FLM", payload.ToToken)
	assert.Equal(t, int64(250000000), payload.AmountSmallestUnit)
	assert.False(t, payload.BuiltAt.IsZero())

	var inv struct {
		Contract string `json:"contract"`
		Method   string `json:"method"`
		Args     []any  `json:"args"`
	}
	require.NoError(t, json.Unmarshal(payload.Script, &inv))
	assert.Equal(t, "swapTokenInForTokenOut", inv.Method)
	assert.Len(t, inv.Args, 6)
}

func TestSwapBuildSameToken(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindSwap, Swap: &models.SwapAction{
		FromToken: "GAS",
		ToToken:   "GAS",
		Amount:    models.AmountSpec{Decimal: "1"},
	}}

	_, err := builders.Build(context.Background(), action, signerAddr, Balances{"GAS": gas(10)})
	assert.ErrorIs(t, err, models.ErrInvalidAction)
}

func TestSwapBuildUnknownToken(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindSwap, Swap: &models.SwapAction{
		FromToken: "DOGE",
		ToToken:   "GAS",
		Amount:    models.AmountSpec{Decimal: "1"},
	}}

	_, err := builders.Build(context.Background(), action, signerAddr, Balances{"DOGE": 100})
	assert.ErrorIs(t, err, registry.ErrUnknownToken)
}

func TestStakeBuild(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindStake, Stake: &models.StakeAction{
		Token:  "FLM",
		Pool:   "stake-pool",
		Amount: models.AmountSpec{PctBalance: 100},
	}}

	payload, err := builders.Build(context.Background(), action, signerAddr, Balances{"FLM": 400000000})
	require.NoError(t, err)
	assert.Equal(t, int64(400000000), payload.AmountSmallestUnit)

	var inv struct {
		Method string `json:"method"`
	}
	require.NoError(t, json.Unmarshal(payload.Script, &inv))
	assert.Equal(t, "stake", inv.Method)
}

func TestStakeBuildUnknownPool(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindStake, Stake: &models.StakeAction{
		Token:  "FLM",
		Pool:   "no-such-pool",
		Amount: models.AmountSpec{PctBalance: 100},
	}}

	_, err := builders.Build(context.Background(), action, signerAddr, Balances{"FLM": 100})
	assert.ErrorIs(t, err, registry.ErrUnknownContract)
}

func TestTransferBuild(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindTransfer, Transfer: &models.TransferAction{
		Token:  "NEO",
		To:     "NhGomBpYnKXArr55nHRQ5rzy79TwKVXZbr",
		Amount: models.AmountSpec{Decimal: "3"},
	}}

	payload, err := builders.Build(context.Background(), action, signerAddr, Balances{"NEO": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), payload.AmountSmallestUnit)
}

func TestTransferIndivisibleTokenRejectsFraction(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindTransfer, Transfer: &models.TransferAction{
		Token:  "NEO",
		To:     "NhGomBpYnKXArr55nHRQ5rzy79TwKVXZbr",
		Amount: models.AmountSpec{Decimal: "1.5"},
	}}

	_, err := builders.Build(context.Background(), action, signerAddr, Balances{"NEO": 10})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBuildersAreStatelessAcrossBalanceChanges(t *testing.T) {
	builders := newTestRegistry(t)

	action := &models.Action{Kind: models.ActionKindTransfer, Transfer: &models.TransferAction{
		Token:  "GAS",
		To:     "NhGomBpYnKXArr55nHRQ5rzy79TwKVXZbr",
		Amount: models.AmountSpec{PctBalance: 50},
	}}

	first, err := builders.Build(context.Background(), action, signerAddr, Balances{"GAS": gas(4)})
	require.NoError(t, err)

	second, err := builders.Build(context.Background(), action, signerAddr, Balances{"GAS": gas(2)})
	require.NoError(t, err)

	assert.Equal(t, gas(2), first.AmountSmallestUnit)
	assert.Equal(t, gas(1), second.AmountSmallestUnit)
}

func TestRegistryUnknownKind(t *testing.T) {
	builders := newTestRegistry(t)

	_, err := builders.ForKind(models.ActionKind("borrow"))
	assert.ErrorIs(t, err, ErrUnknownActionKind)
}
