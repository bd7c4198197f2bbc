// Package triggerstate persists per-workflow trigger health records. The
// store is the crash-recovery source of truth for trigger evaluation: it
// survives restarts independently of the in-memory trigger objects.
package triggerstate

import (
	"context"
	"errors"

	"github.com/triggerfi/chainflow/pkg/models"
)

var ErrEmptyWorkflowID = errors.New("workflow id is empty")

// Store is the durable trigger-state contract. A missing record means
// "never checked" and is reported as a nil state, not an error. Records
// are never deleted automatically; Delete is an explicit operation.
type Store interface {
	// Save writes the full state record. Writes are atomic: a crash
	// mid-write never leaves a corrupt record visible.
	Save(ctx context.Context, state *models.TriggerState) error

	// Load returns the state for a workflow, or nil when none exists.
	Load(ctx context.Context, workflowID string) (*models.TriggerState, error)

	// Delete removes a record, reporting whether one existed.
	Delete(ctx context.Context, workflowID string) (bool, error)

	// ListActive returns every record marked active. Corrupt records are
	// skipped with a warning, never surfaced as an error.
	ListActive(ctx context.Context) ([]*models.TriggerState, error)

	// ListAll returns every readable record.
	ListAll(ctx context.Context) ([]*models.TriggerState, error)

	// RecordCheck registers one evaluation cycle, creating the record on
	// first check. A non-nil checkErr increments the consecutive error
	// counter; a nil one resets it.
	RecordCheck(ctx context.Context, workflowID string, kind models.TriggerKind, checkErr error) (*models.TriggerState, error)

	// RecordFire registers a firing on an existing record.
	RecordFire(ctx context.Context, workflowID string) error

	Close() error
}
