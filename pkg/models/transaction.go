package models

import "time"

// TransactionPayload is an unsigned, chain-specific transaction produced by
// a builder. Script carries the opaque invocation bytes; the remaining
// fields are metadata used for logging and history.
type TransactionPayload struct {
	ActionKind ActionKind `json:"action_kind"`
	FromToken  string     `json:"from_token"`
	ToToken    string     `json:"to_token,omitempty"`

	// AmountSmallestUnit is the integer amount with the token's decimals
	// resolved through the registry.
	AmountSmallestUnit int64 `json:"amount_smallest_unit"`

	Script  []byte    `json:"script"`
	BuiltAt time.Time `json:"built_at"`
}

// TransactionResult tracks one broadcast transaction through confirmation.
// It is created when broadcast succeeds, mutated while polling, and
// immutable once the required confirmation depth is reached.
type TransactionResult struct {
	TxID                string     `json:"tx_id"`
	IncludedBlockHeight *int64     `json:"included_block_height,omitempty"`
	Confirmations       int64      `json:"confirmations"`
	NetworkFee          int64      `json:"network_fee"`
	ProtocolFee         int64      `json:"protocol_fee"`
	ObservedAt          time.Time  `json:"observed_at"`
}
