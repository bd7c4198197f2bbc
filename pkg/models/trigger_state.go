package models

import "time"

// TriggerState mirrors a trigger's operational health on durable storage,
// independent of the in-memory Trigger object. It is created on the first
// check, updated on every check and firing, and only deleted explicitly.
type TriggerState struct {
	WorkflowID      string      `json:"workflow_id" validate:"required"`
	TriggerType     TriggerKind `json:"trigger_type"`
	LastCheckedAt   *time.Time  `json:"last_checked_at,omitempty"`
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty"`
	CheckCount      int64       `json:"check_count"`
	IsActive        bool        `json:"is_active"`

	// ErrorCount counts consecutive failed checks; it resets to zero on
	// the first successful check.
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// MarkChecked records one evaluation cycle. A non-empty errMsg counts as a
// consecutive failure; an empty one clears the error counters.
func (s *TriggerState) MarkChecked(at time.Time, errMsg string) {
	s.CheckCount++
	s.LastCheckedAt = &at

	if errMsg != "" {
		s.ErrorCount++
		s.LastError = errMsg

		return
	}

	s.ErrorCount = 0
	s.LastError = ""
}

// MarkTriggered records a firing.
func (s *TriggerState) MarkTriggered(at time.Time) {
	s.LastTriggeredAt = &at
}
