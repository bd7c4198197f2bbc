// Package scheduler owns trigger lifecycles: it registers workflow
// triggers, runs one evaluation task per active trigger and drives the
// firing sequence through build, sign and execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/triggerfi/chainflow/pkg/eventbus"
	"github.com/triggerfi/chainflow/pkg/events"
	"github.com/triggerfi/chainflow/pkg/execution"
	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/pricefeed"
	"github.com/triggerfi/chainflow/pkg/registry"
	"github.com/triggerfi/chainflow/pkg/triggerstate"
	"github.com/triggerfi/chainflow/pkg/txbuilder"
	"github.com/triggerfi/chainflow/pkg/workflow"
)

var (
	ErrTriggerNotFound   = errors.New("trigger not found")
	ErrSchedulerClosed   = errors.New("scheduler is closed")
	ErrDuplicateWorkflow = errors.New("workflow already has a registered trigger")
)

const DefaultPricePollInterval = 10 * time.Second

// Engine executes a signed transaction. *execution.Engine satisfies it.
type Engine interface {
	Execute(ctx context.Context, signed []byte, opts execution.ExecuteOptions) (*models.TransactionResult, error)
}

// TransactionSigner is the async signing boundary. *signer.Pool
// satisfies it.
type TransactionSigner interface {
	Address() string
	Sign(ctx context.Context, payload *models.TransactionPayload) ([]byte, error)
}

// BalanceReader reads smallest-unit token balances. gateway.Gateway
// satisfies it.
type BalanceReader interface {
	TokenBalance(ctx context.Context, address, assetHash string) (int64, error)
}

// HistoryRecorder persists one firing step. *execution.History satisfies
// it.
type HistoryRecorder interface {
	Record(ctx context.Context, record execution.StepRecord) error
}

// Deps are the collaborators a scheduler drives. History, EventBus and
// Tracer may be nil; everything else is required.
type Deps struct {
	Workflows workflow.Repository
	States    triggerstate.Store
	Monitor   *pricefeed.Monitor
	Builders  *txbuilder.Registry
	Signer    TransactionSigner
	Engine    Engine
	Balances  BalanceReader
	Registry  *registry.Registry
	History   HistoryRecorder
	EventBus  eventbus.EventBus
	Tracer    trace.Tracer
}

type Config struct {
	// PricePollInterval is the default poll cadence for price triggers
	// that do not set their own.
	PricePollInterval time.Duration

	// ErrorPauseThreshold pauses a trigger after this many consecutive
	// evaluation errors. Zero disables the pause.
	ErrorPauseThreshold int

	// Execute tunes broadcast and confirmation for every firing step.
	Execute execution.ExecuteOptions
}

func (c *Config) normalize() {
	if c.PricePollInterval <= 0 {
		c.PricePollInterval = DefaultPricePollInterval
	}

	zero := execution.ExecuteOptions{}
	if c.Execute == zero {
		c.Execute = execution.DefaultExecuteOptions()
	}
}

type managedTrigger struct {
	mu         sync.Mutex
	firingMu   sync.Mutex
	trigger    *models.Trigger
	definition *models.WorkflowDefinition
	cancel     context.CancelFunc
}

func (mt *managedTrigger) snapshot() models.Trigger {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return *mt.trigger
}

// setStatus moves the trigger to a new status. Terminal statuses are
// sticky: once the trigger is Completed, Failed or Cancelled it keeps
// that status and setStatus reports false.
func (mt *managedTrigger) setStatus(status models.TriggerStatus) bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.trigger.Terminal() {
		return false
	}

	mt.trigger.Status = status

	return true
}

func (mt *managedTrigger) terminal() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.trigger.Terminal()
}

type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	triggers   map[string]*managedTrigger // trigger id -> task
	byWorkflow map[string]string          // workflow id -> trigger id
	wg         sync.WaitGroup
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.normalize()

	return &Scheduler{
		deps:       deps,
		cfg:        cfg,
		logger:     logger.With("module", "scheduler"),
		triggers:   make(map[string]*managedTrigger),
		byWorkflow: make(map[string]string),
	}
}

// Register validates the workflow's trigger spec, records an initial
// state check and starts one independent evaluation task. Returns the
// trigger id.
func (s *Scheduler) Register(ctx context.Context, definition *models.WorkflowDefinition) (string, error) {
	now := time.Now().UTC()

	if err := definition.Validate(now); err != nil {
		return "", err
	}

	if definition.Trigger.Kind == models.TriggerKindPrice {
		if _, err := s.deps.Registry.TokenDecimals(definition.Trigger.Token); err != nil {
			return "", fmt.Errorf("price trigger for %s: %w", definition.Trigger.Token, err)
		}
	}

	trigger := &models.Trigger{
		ID:        uuid.New().String(),
		Spec:      definition.Trigger,
		Status:    models.TriggerStatusPending,
		CreatedAt: now,
	}

	if next, ok := definition.Trigger.NextFireAt(now); ok {
		trigger.NextFireAt = &next
	}

	mt := &managedTrigger{trigger: trigger, definition: definition}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return "", ErrSchedulerClosed
	}

	if _, exists := s.byWorkflow[definition.ID]; exists {
		s.mu.Unlock()

		return "", fmt.Errorf("%w: %s", ErrDuplicateWorkflow, definition.ID)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	mt.cancel = cancel
	s.triggers[trigger.ID] = mt
	s.byWorkflow[definition.ID] = trigger.ID

	s.wg.Add(1)
	s.mu.Unlock()

	rollback := func() {
		cancel()

		s.mu.Lock()
		delete(s.triggers, trigger.ID)
		delete(s.byWorkflow, definition.ID)
		s.mu.Unlock()

		s.wg.Done()
	}

	// The durable record is written only for admitted triggers, and a
	// re-registered workflow reactivates the one it retired with.
	state, err := s.deps.States.RecordCheck(ctx, definition.ID, definition.Trigger.Kind, nil)
	if err != nil {
		rollback()

		return "", fmt.Errorf("record initial trigger state: %w", err)
	}

	if !state.IsActive {
		state.IsActive = true

		if err := s.deps.States.Save(ctx, state); err != nil {
			rollback()

			return "", fmt.Errorf("reactivate trigger state: %w", err)
		}
	}

	mt.setStatus(models.TriggerStatusActive)

	switch definition.Trigger.Kind {
	case models.TriggerKindPrice:
		go s.runPriceTask(taskCtx, mt)
	default:
		go s.runTimeTask(taskCtx, mt)
	}

	s.publish(ctx, definition.ID, events.TriggerRegistered{
		BaseEvent:   events.NewBaseEvent(events.TriggerRegisteredEvent, definition.ID),
		TriggerKind: string(definition.Trigger.Kind),
		NextFireAt:  trigger.NextFireAt,
	})

	s.logger.Info("Trigger registered",
		"trigger_id", trigger.ID,
		"workflow_id", definition.ID,
		"kind", definition.Trigger.Kind)

	return trigger.ID, nil
}

// Cancel stops the evaluation task and marks the trigger Cancelled. A
// firing sequence already in flight runs to completion; the trigger
// stays Cancelled regardless of how that firing ends. Idempotent:
// cancelling an already terminal trigger reports true, an unknown id
// reports false.
func (s *Scheduler) Cancel(triggerID string) bool {
	s.mu.Lock()
	mt, ok := s.triggers[triggerID]
	s.mu.Unlock()

	if !ok {
		return false
	}

	if mt.terminal() {
		return true
	}

	mt.cancel()

	if !mt.setStatus(models.TriggerStatusCancelled) {
		return true
	}

	s.deactivate(context.Background(), mt.definition.ID)
	s.releaseWorkflow(mt.definition.ID, triggerID)

	s.publish(context.Background(), mt.definition.ID, events.TriggerCancelled{
		BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, mt.definition.ID),
	})

	s.logger.Info("Trigger cancelled", "trigger_id", triggerID, "workflow_id", mt.definition.ID)

	return true
}

// Status returns a snapshot of the trigger.
func (s *Scheduler) Status(triggerID string) (models.Trigger, error) {
	s.mu.Lock()
	mt, ok := s.triggers[triggerID]
	s.mu.Unlock()

	if !ok {
		return models.Trigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}

	return mt.snapshot(), nil
}

// TriggerForWorkflow resolves the trigger id of the live trigger
// registered for a workflow. Terminal triggers release the slot, so the
// workflow can be registered again; they stay queryable by id through
// Status.
func (s *Scheduler) TriggerForWorkflow(workflowID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byWorkflow[workflowID]

	return id, ok
}

// releaseWorkflow frees the workflow slot held by a trigger that reached
// a terminal status. The id guard keeps a re-registered trigger's slot
// intact when the retired one releases late.
func (s *Scheduler) releaseWorkflow(workflowID, triggerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byWorkflow[workflowID] == triggerID {
		delete(s.byWorkflow, workflowID)
	}
}

// Recover re-registers triggers for every stored workflow definition so
// a restart resumes evaluation. A workflow whose last persisted state is
// inactive is skipped; one whose spec no longer validates (a one-shot
// time already in the past) is skipped with a warning. Mid-firing
// sequences are not resumed.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	definitions, err := s.deps.Workflows.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load workflow definitions: %w", err)
	}

	recovered := 0

	for _, definition := range definitions {
		state, err := s.deps.States.Load(ctx, definition.ID)
		if err != nil {
			s.logger.Warn("Failed to load trigger state during recovery",
				"workflow_id", definition.ID, "error", err)

			continue
		}

		if state != nil && !state.IsActive {
			s.logger.Info("Skipping inactive trigger during recovery", "workflow_id", definition.ID)

			continue
		}

		if _, err := s.Register(ctx, definition); err != nil {
			s.logger.Warn("Failed to recover trigger",
				"workflow_id", definition.ID, "error", err)

			continue
		}

		recovered++
	}

	s.logger.Info("Trigger recovery finished", "recovered", recovered, "definitions", len(definitions))

	return recovered, nil
}

// Close stops every evaluation task and waits for them to exit. Firing
// sequences already in flight run to completion.
func (s *Scheduler) Close() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true

	for _, mt := range s.triggers {
		mt.cancel()
	}

	s.mu.Unlock()
	s.wg.Wait()
}

// deactivate flips the durable state record to inactive so recovery
// does not resurrect a terminal trigger.
func (s *Scheduler) deactivate(ctx context.Context, workflowID string) {
	state, err := s.deps.States.Load(ctx, workflowID)
	if err != nil || state == nil {
		if err != nil {
			s.logger.Error("Failed to load state for deactivation",
				"workflow_id", workflowID, "error", err)
		}

		return
	}

	state.IsActive = false

	if err := s.deps.States.Save(ctx, state); err != nil {
		s.logger.Error("Failed to deactivate trigger state",
			"workflow_id", workflowID, "error", err)
	}
}

func (s *Scheduler) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if s.deps.EventBus == nil {
		return
	}

	if err := s.deps.EventBus.Publish(ctx, workflowID, event); err != nil {
		s.logger.Warn("Failed to publish lifecycle event",
			"workflow_id", workflowID, "event_type", event.GetType(), "error", err)
	}
}
