// Package gateway provides the chain RPC client used by the execution
// pipeline. It distinguishes RPC-level failures (the node answered with an
// error) from connection-level failures (the node could not be reached),
// and fails over from the primary to the secondary endpoint on
// connection-class errors only.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// RPCError is a structured error returned by the node itself. RPC errors
// never trigger endpoint failover: the node was reachable and said no.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ConnError is a network-level failure reaching an endpoint.
type ConnError struct {
	Endpoint string
	Err      error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// IsConnError reports whether err is a connection-class failure.
func IsConnError(err error) bool {
	var connErr *ConnError

	return errors.As(err, &connErr)
}

// ErrTransactionNotFound indicates a transaction id the chain does not know
// about yet. A pending transaction sitting in the mempool reports this
// until it is included in a block.
var ErrTransactionNotFound = errors.New("transaction not found")

// Gateway is the chain RPC surface the pipeline consumes.
type Gateway interface {
	// Call performs a raw JSON-RPC call, decoding the result into out.
	Call(ctx context.Context, method string, params []any, out any) error

	// BlockCount returns the current chain height plus one.
	BlockCount(ctx context.Context) (int64, error)

	// TransactionHeight returns the block height a transaction was
	// included at, or ErrTransactionNotFound while it is absent from
	// every block.
	TransactionHeight(ctx context.Context, txID string) (int64, error)

	// SendRawTransaction broadcasts signed transaction bytes and returns
	// the transaction id assigned by the node.
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)

	// TokenBalance returns the smallest-unit balance of an asset held by
	// an address.
	TokenBalance(ctx context.Context, address, assetHash string) (int64, error)
}
