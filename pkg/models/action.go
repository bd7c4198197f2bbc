package models

import (
	"errors"
	"fmt"
)

// ActionKind is the closed set of on-chain action types a workflow step
// can perform. Each kind has its own builder; dispatch is by tag.
type ActionKind string

const (
	ActionKindSwap     ActionKind = "swap"
	ActionKindStake    ActionKind = "stake"
	ActionKindTransfer ActionKind = "transfer"
)

var ErrInvalidAction = errors.New("invalid action")

// Action is one workflow step: a tagged union of the supported kinds.
// Exactly one of Swap, Stake, Transfer is non-nil and must match Kind.
type Action struct {
	ID   string     `json:"id"`
	Kind ActionKind `json:"kind" validate:"required,oneof=swap stake transfer"`

	Swap     *SwapAction     `json:"swap,omitempty"`
	Stake    *StakeAction    `json:"stake,omitempty"`
	Transfer *TransferAction `json:"transfer,omitempty"`
}

// AmountSpec expresses an action amount either as a decimal token amount
// ("1.5") or as a percentage of the signer's balance at build time.
// Exactly one of the two is set.
type AmountSpec struct {
	Decimal    string  `json:"decimal,omitempty"`
	PctBalance float64 `json:"pct_balance,omitempty"`
}

// Validate checks that exactly one representation is present and in range.
func (a AmountSpec) Validate() error {
	if a.Decimal == "" && a.PctBalance == 0 {
		return fmt.Errorf("%w: amount is required", ErrInvalidAction)
	}

	if a.Decimal != "" && a.PctBalance != 0 {
		return fmt.Errorf("%w: use either a decimal amount or a balance percentage, not both", ErrInvalidAction)
	}

	if a.PctBalance < 0 || a.PctBalance > 100 {
		return fmt.Errorf("%w: balance percentage must be in (0, 100]", ErrInvalidAction)
	}

	return nil
}

// SwapAction exchanges FromToken for ToToken through the swap router.
type SwapAction struct {
	FromToken string     `json:"from_token" validate:"required"`
	ToToken   string     `json:"to_token"   validate:"required"`
	Amount    AmountSpec `json:"amount"`
}

// StakeAction deposits Token into a staking pool contract.
type StakeAction struct {
	Token  string     `json:"token" validate:"required"`
	Pool   string     `json:"pool"  validate:"required"`
	Amount AmountSpec `json:"amount"`
}

// TransferAction sends Token to another address.
type TransferAction struct {
	Token  string     `json:"token" validate:"required"`
	To     string     `json:"to"    validate:"required"`
	Amount AmountSpec `json:"amount"`
}

// Validate checks the tag matches the populated variant.
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionKindSwap:
		if a.Swap == nil {
			return fmt.Errorf("%w: swap action missing swap payload", ErrInvalidAction)
		}

		if a.Swap.FromToken == "" || a.Swap.ToToken == "" {
			return fmt.Errorf("%w: swap requires from_token and to_token", ErrInvalidAction)
		}

		return a.Swap.Amount.Validate()
	case ActionKindStake:
		if a.Stake == nil {
			return fmt.Errorf("%w: stake action missing stake payload", ErrInvalidAction)
		}

		if a.Stake.Token == "" || a.Stake.Pool == "" {
			return fmt.Errorf("%w: stake requires token and pool", ErrInvalidAction)
		}

		return a.Stake.Amount.Validate()
	case ActionKindTransfer:
		if a.Transfer == nil {
			return fmt.Errorf("%w: transfer action missing transfer payload", ErrInvalidAction)
		}

		if a.Transfer.Token == "" || a.Transfer.To == "" {
			return fmt.Errorf("%w: transfer requires token and destination", ErrInvalidAction)
		}

		return a.Transfer.Amount.Validate()
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidAction, a.Kind)
	}
}

// Token returns the token the action spends from the signer's balance.
func (a *Action) Token() string {
	switch a.Kind {
	case ActionKindSwap:
		return a.Swap.FromToken
	case ActionKindStake:
		return a.Stake.Token
	case ActionKindTransfer:
		return a.Transfer.Token
	default:
		return ""
	}
}

// Amount returns the action's amount spec.
func (a *Action) Amount() AmountSpec {
	switch a.Kind {
	case ActionKindSwap:
		return a.Swap.Amount
	case ActionKindStake:
		return a.Stake.Amount
	case ActionKindTransfer:
		return a.Transfer.Amount
	default:
		return AmountSpec{}
	}
}
