package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/triggerfi/chainflow/pkg/events"
	"github.com/triggerfi/chainflow/pkg/models"
)

var errSyntheticPrice = errors.New("market source degraded to synthetic price")

// runTimeTask sleeps until the next fire time, fires, then re-arms for
// recurring schedules or completes one-shot ones.
func (s *Scheduler) runTimeTask(ctx context.Context, mt *managedTrigger) {
	defer s.wg.Done()

	workflowID := mt.definition.ID
	logger := s.logger.With("workflow_id", workflowID, "trigger_id", mt.trigger.ID)

	for {
		now := time.Now().UTC()

		next, ok := mt.definition.Trigger.NextFireAt(now)
		if !ok {
			s.complete(ctx, mt)

			return
		}

		mt.mu.Lock()
		mt.trigger.NextFireAt = &next
		mt.mu.Unlock()

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}

		if !s.fire(ctx, mt, nil) {
			return
		}

		if !mt.definition.Trigger.IsRecurring() {
			s.complete(ctx, mt)

			return
		}

		logger.Info("Recurring trigger re-armed")
	}
}

// runPriceTask polls the price monitor at the trigger's cadence and
// fires when the condition is met. Every poll is recorded as a state
// check; degraded synthetic samples count as evaluation errors for
// observability without stopping the task.
func (s *Scheduler) runPriceTask(ctx context.Context, mt *managedTrigger) {
	defer s.wg.Done()

	spec := mt.definition.Trigger
	workflowID := mt.definition.ID
	logger := s.logger.With("workflow_id", workflowID, "trigger_id", mt.trigger.ID)

	interval := spec.PollInterval
	if interval <= 0 {
		interval = s.cfg.PricePollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result := s.deps.Monitor.CheckCondition(ctx, spec.Token, spec.Comparator, spec.TargetPrice)

		var checkErr error
		if result.Source == models.PriceSourceSynthetic {
			checkErr = errSyntheticPrice
		}

		now := time.Now().UTC()

		mt.mu.Lock()
		mt.trigger.LastEvaluatedAt = &now
		mt.mu.Unlock()

		state, err := s.deps.States.RecordCheck(ctx, workflowID, models.TriggerKindPrice, checkErr)
		if err != nil {
			logger.Error("Failed to record trigger state check", "error", err)
		}

		if s.cfg.ErrorPauseThreshold > 0 && state != nil && state.ErrorCount >= s.cfg.ErrorPauseThreshold {
			logger.Warn("Pausing trigger after consecutive evaluation errors",
				"error_count", state.ErrorCount, "threshold", s.cfg.ErrorPauseThreshold)
			s.failTrigger(ctx, mt, "", 0, errors.New("paused after consecutive evaluation errors"))

			return
		}

		if !result.ConditionMet {
			continue
		}

		logger.Info("Price condition met", "message", result.Message)

		if !s.fire(ctx, mt, &result) {
			return
		}

		if !spec.IsRecurring() {
			s.complete(ctx, mt)

			return
		}
	}
}

// complete retires a one-shot trigger that fired, or a time trigger with
// no future fire time left. A trigger already cancelled keeps its status
// and its retirement bookkeeping.
func (s *Scheduler) complete(ctx context.Context, mt *managedTrigger) {
	if !mt.setStatus(models.TriggerStatusCompleted) {
		return
	}

	mt.mu.Lock()
	timesFired := mt.trigger.TimesFired
	mt.mu.Unlock()

	s.deactivate(ctx, mt.definition.ID)
	s.releaseWorkflow(mt.definition.ID, mt.trigger.ID)

	s.publish(ctx, mt.definition.ID, events.TriggerCompleted{
		BaseEvent:  events.NewBaseEvent(events.TriggerCompletedEvent, mt.definition.ID),
		TimesFired: int64(timesFired),
	})

	s.logger.Info("Trigger completed",
		"workflow_id", mt.definition.ID,
		"trigger_id", mt.trigger.ID,
		"times_fired", timesFired)
}
