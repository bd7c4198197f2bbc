package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/triggerfi/chainflow/pkg/events"
	"github.com/triggerfi/chainflow/pkg/execution"
	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/otelhelper"
	"github.com/triggerfi/chainflow/pkg/txbuilder"
)

// fire runs one firing sequence: build, sign and execute every action
// step in order, stopping at the first failure. Reports whether the
// trigger survived the firing and may keep evaluating.
func (s *Scheduler) fire(ctx context.Context, mt *managedTrigger, priceResult *models.PriceConditionResult) bool {
	mt.firingMu.Lock()
	defer mt.firingMu.Unlock()

	// A firing in flight survives Cancel and Close: the sequence runs on
	// its own context, bounded by the firing budget instead of the
	// evaluation task's lifetime.
	ctx, cancelFiring := context.WithTimeout(context.WithoutCancel(ctx), s.firingBudget(len(mt.definition.Actions)))
	defer cancelFiring()

	workflowID := mt.definition.ID
	firingID := uuid.New().String()
	startedAt := time.Now().UTC()

	var span trace.Span
	if s.deps.Tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, s.deps.Tracer, "trigger.firing",
			attribute.String(otelhelper.WorkflowIDKey, workflowID),
			attribute.String(otelhelper.FiringIDKey, firingID),
			attribute.String(otelhelper.TriggerKindKey, string(mt.definition.Trigger.Kind)))
		defer span.End()
	}

	mt.setStatus(models.TriggerStatusTriggered)

	fired := events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, workflowID),
		FiringID:    firingID,
		TriggerKind: string(mt.definition.Trigger.Kind),
	}
	if priceResult != nil {
		fired.Token = priceResult.Token
		fired.CurrentPrice = priceResult.CurrentPrice
		fired.TargetPrice = priceResult.TargetPrice
	}

	s.publish(ctx, workflowID, fired)

	logger := s.logger.With("workflow_id", workflowID, "firing_id", firingID)
	logger.Info("Trigger fired", "steps", len(mt.definition.Actions))

	for i, action := range mt.definition.Actions {
		result, err := s.executeStep(ctx, mt, firingID, i, action)
		if err != nil {
			logger.Error("Firing step failed, aborting sequence",
				"step", i, "action_kind", action.Kind, "error", err)

			if span != nil {
				otelhelper.SetError(span, err,
					attribute.Int(otelhelper.StepIndexKey, i),
					attribute.String(otelhelper.ActionKindKey, string(action.Kind)))
			}

			s.failTrigger(ctx, mt, firingID, i, err)

			return false
		}

		logger.Info("Firing step confirmed",
			"step", i, "action_kind", action.Kind, "tx_id", result.TxID,
			"confirmations", result.Confirmations)
	}

	if err := s.deps.States.RecordFire(ctx, workflowID); err != nil {
		logger.Error("Failed to persist fired state", "error", err)
	}

	mt.mu.Lock()
	mt.trigger.TimesFired++

	// A trigger cancelled while the firing was in flight keeps its
	// terminal status.
	if !mt.trigger.Terminal() {
		mt.trigger.Status = models.TriggerStatusActive
	}
	mt.mu.Unlock()

	logger.Info("Firing sequence completed", "duration", time.Since(startedAt))

	return true
}

// firingBudget bounds one detached firing sequence: every step gets the
// confirmation timeout plus headroom for build, sign and broadcast.
func (s *Scheduler) firingBudget(steps int) time.Duration {
	per := s.cfg.Execute.ConfirmTimeout
	if per <= 0 {
		per = execution.DefaultConfirmTimeout
	}

	per += 30 * time.Second

	if steps < 1 {
		steps = 1
	}

	return time.Duration(steps) * per
}

func (s *Scheduler) executeStep(ctx context.Context, mt *managedTrigger, firingID string, stepIndex int, action *models.Action) (*models.TransactionResult, error) {
	workflowID := mt.definition.ID
	stepStart := time.Now().UTC()

	s.publish(ctx, workflowID, events.ExecutionStarted{
		BaseEvent:  events.NewBaseEvent(events.ExecutionStartedEvent, workflowID),
		FiringID:   firingID,
		StepIndex:  stepIndex,
		ActionKind: string(action.Kind),
	})

	record := execution.StepRecord{
		WorkflowID: workflowID,
		FiringID:   firingID,
		StepIndex:  stepIndex,
		ActionKind: string(action.Kind),
		StartedAt:  stepStart,
	}

	result, err := s.buildSignExecute(ctx, mt, action)
	if err != nil {
		record.Outcome = execution.OutcomeFailed
		record.Error = err.Error()
		s.recordStep(ctx, record)

		s.publish(ctx, workflowID, events.ExecutionFailed{
			BaseEvent:  events.NewBaseEvent(events.ExecutionFailedEvent, workflowID),
			FiringID:   firingID,
			StepIndex:  stepIndex,
			Error:      err.Error(),
			DurationMs: time.Since(stepStart).Milliseconds(),
		})

		return nil, err
	}

	record.TxID = result.TxID

	if result.Confirmations > 0 {
		record.Outcome = execution.OutcomeConfirmed
	} else {
		record.Outcome = execution.OutcomeSubmitted
	}

	s.recordStep(ctx, record)

	confirmed := events.ExecutionConfirmed{
		BaseEvent:     events.NewBaseEvent(events.ExecutionConfirmedEvent, workflowID),
		FiringID:      firingID,
		StepIndex:     stepIndex,
		TxID:          result.TxID,
		Confirmations: result.Confirmations,
		DurationMs:    time.Since(stepStart).Milliseconds(),
	}
	if result.IncludedBlockHeight != nil {
		confirmed.BlockHeight = *result.IncludedBlockHeight
	}

	s.publish(ctx, workflowID, confirmed)

	return result, nil
}

// buildSignExecute resolves the spend balance at firing time, builds the
// unsigned payload, hands it to the signing pool and executes the result.
func (s *Scheduler) buildSignExecute(ctx context.Context, mt *managedTrigger, action *models.Action) (*models.TransactionResult, error) {
	signerAddress := s.deps.Signer.Address()

	balances := txbuilder.Balances{}

	token := action.Token()
	if token != "" {
		assetHash, err := s.deps.Registry.TokenHash(token)
		if err != nil {
			return nil, err
		}

		balance, err := s.deps.Balances.TokenBalance(ctx, signerAddress, assetHash)
		if err != nil {
			return nil, err
		}

		balances[token] = balance
	}

	payload, err := s.deps.Builders.Build(ctx, action, signerAddress, balances)
	if err != nil {
		return nil, err
	}

	signed, err := s.deps.Signer.Sign(ctx, payload)
	if err != nil {
		return nil, err
	}

	return s.deps.Engine.Execute(ctx, signed, s.cfg.Execute)
}

func (s *Scheduler) recordStep(ctx context.Context, record execution.StepRecord) {
	if s.deps.History == nil {
		return
	}

	record.FinishedAt = time.Now().UTC()

	if err := s.deps.History.Record(ctx, record); err != nil {
		s.logger.Error("Failed to record firing step",
			"workflow_id", record.WorkflowID, "firing_id", record.FiringID, "error", err)
	}
}

// failTrigger marks the trigger Failed and persists the error so the
// last failure survives a restart. The evaluation task stops afterwards
// and the workflow slot is released for an explicit re-register. A
// trigger that reached a terminal status while the firing was in flight
// keeps that status; only the error is recorded.
func (s *Scheduler) failTrigger(ctx context.Context, mt *managedTrigger, firingID string, stepIndex int, cause error) {
	workflowID := mt.definition.ID

	if _, err := s.deps.States.RecordCheck(ctx, workflowID, mt.definition.Trigger.Kind, cause); err != nil {
		s.logger.Error("Failed to persist trigger failure",
			"workflow_id", workflowID, "error", err)
	}

	if !mt.setStatus(models.TriggerStatusFailed) {
		return
	}

	s.deactivate(ctx, workflowID)
	s.releaseWorkflow(workflowID, mt.trigger.ID)

	s.publish(ctx, workflowID, events.TriggerFailed{
		BaseEvent: events.NewBaseEvent(events.TriggerFailedEvent, workflowID),
		FiringID:  firingID,
		StepIndex: stepIndex,
		Error:     cause.Error(),
	})
}
