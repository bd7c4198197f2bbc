package execution

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTransactionSize is the chain's cap on signed transaction bytes.
// Oversized payloads are rejected locally instead of wasting a round trip.
const MaxTransactionSize = 102400

var (
	ErrPayloadTooLarge     = errors.New("signed transaction exceeds maximum size")
	ErrConfirmationTimeout = errors.New("confirmation wait timed out")
)

// BroadcastKind classifies a broadcast rejection reported by the node.
type BroadcastKind string

const (
	BroadcastAlreadyExists     BroadcastKind = "already-exists"
	BroadcastInsufficientFunds BroadcastKind = "insufficient-funds"
	BroadcastExpired           BroadcastKind = "expired"
	BroadcastInvalid           BroadcastKind = "invalid"
	BroadcastMempoolFull       BroadcastKind = "mempool-full"
	BroadcastUnknown           BroadcastKind = "unknown"
)

// Retryable reports whether a caller may reasonably resubmit after backoff.
// Already-exists means the transaction is on-chain; resubmitting is pointless.
func (k BroadcastKind) Retryable() bool {
	return k == BroadcastMempoolFull || k == BroadcastUnknown
}

// BroadcastError carries the classified rejection together with the
// node's original message.
type BroadcastError struct {
	Kind    BroadcastKind
	Message string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected (%s): %s", e.Kind, e.Message)
}

// classificationTable maps known node error substrings to a kind. Matching
// is case-insensitive, first hit wins, unknown is the fallback.
var classificationTable = []struct {
	substr string
	kind   BroadcastKind
}{
	{"already exists", BroadcastAlreadyExists},
	{"alreadyexists", BroadcastAlreadyExists},
	{"already in the memory pool", BroadcastAlreadyExists},
	{"insufficient funds", BroadcastInsufficientFunds},
	{"insufficientfunds", BroadcastInsufficientFunds},
	{"balance is not enough", BroadcastInsufficientFunds},
	{"expired", BroadcastExpired},
	{"invalid", BroadcastInvalid},
	{"malformed", BroadcastInvalid},
	{"verification failed", BroadcastInvalid},
	{"mempool is full", BroadcastMempoolFull},
	{"out of memory", BroadcastMempoolFull},
	{"memory pool capacity", BroadcastMempoolFull},
}

func classifyBroadcast(message string) BroadcastKind {
	lower := strings.ToLower(message)

	for _, entry := range classificationTable {
		if strings.Contains(lower, entry.substr) {
			return entry.kind
		}
	}

	return BroadcastUnknown
}
