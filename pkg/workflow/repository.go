// Package workflow loads and validates the workflow definitions the
// scheduler runs: one trigger plus the ordered action steps it fires.
package workflow

import (
	"context"
	"errors"

	"github.com/triggerfi/chainflow/pkg/models"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// Repository is the source of workflow definitions.
type Repository interface {
	FetchAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
}
