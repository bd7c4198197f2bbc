// Package models defines the core domain models for the trigger evaluation
// and transaction execution pipeline.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind identifies how a trigger's condition is evaluated.
type TriggerKind string

const (
	TriggerKindTime  TriggerKind = "time"
	TriggerKindPrice TriggerKind = "price"
)

// TriggerStatus represents the lifecycle state of a trigger.
type TriggerStatus string

const (
	TriggerStatusPending   TriggerStatus = "pending"   // Registered, evaluation task not yet started
	TriggerStatusActive    TriggerStatus = "active"    // Evaluation task running
	TriggerStatusTriggered TriggerStatus = "triggered" // Condition met, firing sequence in progress
	TriggerStatusCompleted TriggerStatus = "completed" // One-shot trigger fired successfully
	TriggerStatusFailed    TriggerStatus = "failed"    // A firing step failed, trigger retired
	TriggerStatusCancelled TriggerStatus = "cancelled" // Explicitly cancelled
)

// Comparator defines how a current price is compared against a target.
type Comparator string

const (
	ComparatorAbove  Comparator = "above"
	ComparatorBelow  Comparator = "below"
	ComparatorEquals Comparator = "equals" // within 1% relative tolerance
)

// EqualsTolerance is the relative tolerance applied by ComparatorEquals.
const EqualsTolerance = 0.01

// Evaluate reports whether current satisfies the comparator against target.
// Above and Below are strict inequalities.
func (c Comparator) Evaluate(current, target float64) bool {
	switch c {
	case ComparatorAbove:
		return current > target
	case ComparatorBelow:
		return current < target
	case ComparatorEquals:
		if target == 0 {
			return current == 0
		}

		diff := current - target
		if diff < 0 {
			diff = -diff
		}

		return diff/target <= EqualsTolerance
	default:
		return false
	}
}

var (
	ErrInvalidTriggerSpec = errors.New("invalid trigger spec")
	ErrScheduleInPast     = errors.New("schedule has no future fire time")
)

// cronParser accepts the standard 5-field cron format, plus an optional
// leading seconds field for sub-minute schedules.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerSpec is the user-supplied activation rule for one workflow.
// Exactly one of the time fields (Cron, FireAt) is set for time triggers;
// the price fields are set for price triggers.
type TriggerSpec struct {
	WorkflowID string      `json:"workflow_id" validate:"required"`
	Kind       TriggerKind `json:"kind"        validate:"required,oneof=time price"`

	// Time trigger: a recurring cron expression or a single fire time.
	Cron   string     `json:"cron,omitempty"`
	FireAt *time.Time `json:"fire_at,omitempty"`

	// Price trigger.
	Token       string     `json:"token,omitempty"`
	Comparator  Comparator `json:"comparator,omitempty" validate:"omitempty,oneof=above below equals"`
	TargetPrice float64    `json:"target_price,omitempty"`

	// PollInterval overrides the scheduler's default price poll interval.
	PollInterval time.Duration `json:"poll_interval,omitempty"`

	// Recurring re-arms the trigger after a successful firing. Time triggers
	// with a cron expression are recurring by nature; price triggers default
	// to one-shot and must opt in explicitly.
	Recurring bool `json:"recurring,omitempty"`
}

// Validate checks the spec for structural errors. Time specs must parse to
// at least one future fire time; price specs must name a token and a
// positive target price.
func (s *TriggerSpec) Validate(now time.Time) error {
	if s.WorkflowID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidTriggerSpec)
	}

	switch s.Kind {
	case TriggerKindTime:
		if s.Cron == "" && s.FireAt == nil {
			return fmt.Errorf("%w: time trigger requires a cron expression or a fire time", ErrInvalidTriggerSpec)
		}

		if s.Cron != "" {
			if _, err := cronParser.Parse(s.Cron); err != nil {
				return fmt.Errorf("%w: invalid cron expression %q: %w", ErrInvalidTriggerSpec, s.Cron, err)
			}
		}

		if s.Cron == "" && s.FireAt != nil && !s.FireAt.After(now) {
			return ErrScheduleInPast
		}
	case TriggerKindPrice:
		if s.Token == "" {
			return fmt.Errorf("%w: price trigger requires a token", ErrInvalidTriggerSpec)
		}

		if s.Comparator != ComparatorAbove && s.Comparator != ComparatorBelow && s.Comparator != ComparatorEquals {
			return fmt.Errorf("%w: unsupported comparator %q", ErrInvalidTriggerSpec, s.Comparator)
		}

		if s.TargetPrice <= 0 {
			return fmt.Errorf("%w: target price must be positive", ErrInvalidTriggerSpec)
		}
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidTriggerSpec, s.Kind)
	}

	return nil
}

// NextFireAt computes the next fire time strictly after the reference time.
// For one-shot specs it returns the configured fire time, or false once that
// time has passed.
func (s *TriggerSpec) NextFireAt(after time.Time) (time.Time, bool) {
	if s.Cron != "" {
		schedule, err := cronParser.Parse(s.Cron)
		if err != nil {
			return time.Time{}, false
		}

		return schedule.Next(after), true
	}

	if s.FireAt != nil && s.FireAt.After(after) {
		return *s.FireAt, true
	}

	return time.Time{}, false
}

// IsRecurring reports whether the trigger re-arms after firing.
func (s *TriggerSpec) IsRecurring() bool {
	if s.Kind == TriggerKindTime {
		return s.Cron != ""
	}

	return s.Recurring
}

// Trigger is the in-memory record of one workflow's activation rule,
// owned by the scheduler for the trigger's lifetime.
type Trigger struct {
	ID              string        `json:"id"`
	Spec            TriggerSpec   `json:"spec"`
	Status          TriggerStatus `json:"status"`
	NextFireAt      *time.Time    `json:"next_fire_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	LastEvaluatedAt *time.Time    `json:"last_evaluated_at,omitempty"`
	TimesFired      int           `json:"times_fired"`
}

// Terminal reports whether the trigger reached a final state.
func (t *Trigger) Terminal() bool {
	switch t.Status {
	case TriggerStatusCompleted, TriggerStatusFailed, TriggerStatusCancelled:
		return true
	default:
		return false
	}
}
