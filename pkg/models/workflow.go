package models

import (
	"fmt"
	"time"
)

// WorkflowDefinition is the durable description of one automated workflow:
// the trigger to evaluate and the ordered action steps to execute when it
// fires. Definitions are produced by an external layer; this pipeline only
// reads them.
type WorkflowDefinition struct {
	ID            string      `json:"id"   validate:"required"`
	Name          string      `json:"name" validate:"required,min=3"`
	Description   string      `json:"description,omitempty"`
	Trigger       TriggerSpec `json:"trigger"`
	Actions       []*Action   `json:"actions" validate:"required,min=1"`
	SignerAddress string      `json:"signer_address" validate:"required"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Validate checks the definition and every step. The trigger's workflow id
// must match the definition's own id.
func (w *WorkflowDefinition) Validate(now time.Time) error {
	if w.ID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidAction)
	}

	if len(w.Actions) == 0 {
		return fmt.Errorf("%w: workflow %s has no actions", ErrInvalidAction, w.ID)
	}

	if w.SignerAddress == "" {
		return fmt.Errorf("%w: workflow %s has no signer address", ErrInvalidAction, w.ID)
	}

	if w.Trigger.WorkflowID == "" {
		w.Trigger.WorkflowID = w.ID
	}

	if w.Trigger.WorkflowID != w.ID {
		return fmt.Errorf("%w: trigger workflow id %q does not match %q", ErrInvalidTriggerSpec, w.Trigger.WorkflowID, w.ID)
	}

	if err := w.Trigger.Validate(now); err != nil {
		return err
	}

	for i, action := range w.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}
