// Package signer defines the opaque signing dependency and the worker
// pool that keeps potentially blocking signature calls off trigger
// evaluation tasks.
package signer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/triggerfi/chainflow/pkg/models"
)

// Signer turns an unsigned payload into signed bytes ready for broadcast.
// The pipeline calls it but does not implement real key handling; wallet
// key loading lives outside this module.
type Signer interface {
	// Address is the chain address whose balances builders resolve
	// against and whose signature the payload carries.
	Address() string

	// Sign may block on external hardware or a remote signing service.
	Sign(ctx context.Context, payload *models.TransactionPayload) ([]byte, error)
}

// LocalSigner is a development signer that wraps the script with a
// deterministic pseudo-witness. It stands in for an external signing
// service in tests and local runs.
type LocalSigner struct {
	address string
}

func NewLocalSigner(address string) *LocalSigner {
	return &LocalSigner{address: address}
}

func (s *LocalSigner) Address() string {
	return s.address
}

func (s *LocalSigner) Sign(_ context.Context, payload *models.TransactionPayload) ([]byte, error) {
	digest := sha256.Sum256(append([]byte(s.address), payload.Script...))

	signed, err := json.Marshal(map[string]any{
		"script":  payload.Script,
		"witness": fmt.Sprintf("%x", digest[:]),
		"signer":  s.address,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble signed transaction: %w", err)
	}

	return signed, nil
}
