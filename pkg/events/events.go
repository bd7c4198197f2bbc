// Package events defines the lifecycle notifications published while
// triggers are evaluated and transactions executed.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every chainflow lifecycle event.
const Topic = "chainflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger lifecycle.
	TriggerRegisteredEvent EventType = "trigger.registered"
	TriggerFiredEvent      EventType = "trigger.fired"
	TriggerCompletedEvent  EventType = "trigger.completed"
	TriggerFailedEvent     EventType = "trigger.failed"
	TriggerCancelledEvent  EventType = "trigger.cancelled"

	// Execution lifecycle, one per action step.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionConfirmedEvent EventType = "execution.confirmed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type TriggerRegistered struct {
	BaseEvent

	TriggerKind string     `json:"trigger_kind"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
}

func (e TriggerRegistered) GetType() EventType {
	return TriggerRegisteredEvent
}

type TriggerFired struct {
	BaseEvent

	FiringID     string  `json:"firing_id"`
	TriggerKind  string  `json:"trigger_kind"`
	Token        string  `json:"token,omitempty"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	TargetPrice  float64 `json:"target_price,omitempty"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type TriggerCompleted struct {
	BaseEvent

	FiringID   string        `json:"firing_id"`
	TimesFired int64         `json:"times_fired"`
	Duration   time.Duration `json:"duration"`
}

func (e TriggerCompleted) GetType() EventType {
	return TriggerCompletedEvent
}

type TriggerFailed struct {
	BaseEvent

	FiringID  string `json:"firing_id"`
	StepIndex int    `json:"step_index"`
	Error     string `json:"error"`
}

func (e TriggerFailed) GetType() EventType {
	return TriggerFailedEvent
}

type TriggerCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e TriggerCancelled) GetType() EventType {
	return TriggerCancelledEvent
}

type ExecutionStarted struct {
	BaseEvent

	FiringID   string `json:"firing_id"`
	StepIndex  int    `json:"step_index"`
	ActionKind string `json:"action_kind"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionConfirmed struct {
	BaseEvent

	FiringID      string `json:"firing_id"`
	StepIndex     int    `json:"step_index"`
	TxID          string `json:"tx_id"`
	BlockHeight   int64  `json:"block_height"`
	Confirmations int64  `json:"confirmations"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e ExecutionConfirmed) GetType() EventType {
	return ExecutionConfirmedEvent
}

type ExecutionFailed struct {
	BaseEvent

	FiringID   string `json:"firing_id"`
	StepIndex  int    `json:"step_index"`
	TxID       string `json:"tx_id,omitempty"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
