package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerfi/chainflow/pkg/execution"
	"github.com/triggerfi/chainflow/pkg/models"
	"github.com/triggerfi/chainflow/pkg/pricefeed"
	"github.com/triggerfi/chainflow/pkg/registry"
	"github.com/triggerfi/chainflow/pkg/signer"
	"github.com/triggerfi/chainflow/pkg/triggerstate"
	"github.com/triggerfi/chainflow/pkg/txbuilder"
	"github.com/triggerfi/chainflow/pkg/workflow"
)

const testSignerAddress = "NXV7ZhHiyM1aHXwvUNBLNAkCwZ6wgeKyMZ"

type stubEngine struct {
	mu       sync.Mutex
	executed [][]byte
	err      error
	txSeq    atomic.Int64
}

func (e *stubEngine) Execute(_ context.Context, signed []byte, _ execution.ExecuteOptions) (*models.TransactionResult, error) {
	e.mu.Lock()
	e.executed = append(e.executed, signed)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}

	height := int64(100)

	return &models.TransactionResult{
		TxID:                fmt.Sprintf("0xtx-%d", e.txSeq.Add(1)),
		IncludedBlockHeight: &height,
		Confirmations:       1,
		ObservedAt:          time.Now().UTC(),
	}, nil
}

func (e *stubEngine) executions() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.executed)
}

// blockingEngine parks inside Execute until released, recording whether
// the execution context was cancelled while it waited.
type blockingEngine struct {
	stubEngine
	entered   chan struct{}
	release   chan struct{}
	sawCancel atomic.Bool
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Execute(ctx context.Context, signed []byte, opts execution.ExecuteOptions) (*models.TransactionResult, error) {
	select {
	case e.entered <- struct{}{}:
	default:
	}

	select {
	case <-e.release:
	case <-ctx.Done():
	}

	if ctx.Err() != nil {
		e.sawCancel.Store(true)

		return nil, ctx.Err()
	}

	return e.stubEngine.Execute(ctx, signed, opts)
}

type stubBalances struct {
	amounts map[string]int64 // asset hash -> balance
}

func (b *stubBalances) TokenBalance(_ context.Context, _, assetHash string) (int64, error) {
	return b.amounts[assetHash], nil
}

type stubHistory struct {
	mu      sync.Mutex
	records []execution.StepRecord
}

func (h *stubHistory) Record(_ context.Context, record execution.StepRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, record)

	return nil
}

func (h *stubHistory) byWorkflow(workflowID string) []execution.StepRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]execution.StepRecord, 0)

	for _, record := range h.records {
		if record.WorkflowID == workflowID {
			out = append(out, record)
		}
	}

	return out
}

type fixedSource struct {
	prices map[string]float64
	err    error
}

func (s *fixedSource) FetchPrice(_ context.Context, token string) (models.PriceSample, error) {
	if s.err != nil {
		return models.PriceSample{}, s.err
	}

	price, ok := s.prices[token]
	if !ok {
		return models.PriceSample{}, pricefeed.ErrTokenNotListed
	}

	return models.PriceSample{
		Token:      token,
		PriceUSD:   price,
		Source:     models.PriceSourceMarket,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (s *fixedSource) FetchAllPrices(ctx context.Context) (map[string]models.PriceSample, error) {
	out := make(map[string]models.PriceSample, len(s.prices))

	for token := range s.prices {
		sample, err := s.FetchPrice(ctx, token)
		if err != nil {
			return nil, err
		}

		out[token] = sample
	}

	return out, nil
}

type fixture struct {
	scheduler *Scheduler
	engine    *stubEngine
	history   *stubHistory
	states    triggerstate.Store
	workflows workflow.Repository
}

func newFixture(t *testing.T, source pricefeed.Source, cfg Config) *fixture {
	t.Helper()

	return newFixtureWithEngine(t, source, cfg, &stubEngine{})
}

func newFixtureWithEngine(t *testing.T, source pricefeed.Source, cfg Config, engine Engine) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	tokens, err := registry.New(registry.NetworkMainnet)
	require.NoError(t, err)

	states, err := triggerstate.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = states.Close() })

	workflows, err := workflow.NewFileRepository(t.TempDir(), logger)
	require.NoError(t, err)

	monitor := pricefeed.NewMonitor(source, tokens.SupportedTokens(), pricefeed.Config{
		CacheTTL:     time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, logger)

	t.Cleanup(monitor.Close)

	pool := signer.NewPool(signer.NewLocalSigner(testSignerAddress), 2, logger)

	t.Cleanup(pool.Close)

	gasHash, err := tokens.TokenHash("GAS")
	require.NoError(t, err)
	fusdtHash, err := tokens.TokenHash("FUSDT")
	require.NoError(t, err)

	history := &stubHistory{}

	deps := Deps{
		Workflows: workflows,
		States:    states,
		Monitor:   monitor,
		Builders:  txbuilder.NewRegistry(tokens),
		Signer:    pool,
		Engine:    engine,
		Balances: &stubBalances{amounts: map[string]int64{
			gasHash:   10_00000000, // 10 GAS
			fusdtHash: 500_000000,  // 500 FUSDT
		}},
		Registry: tokens,
		History:  history,
	}

	sched := New(deps, cfg, logger)

	t.Cleanup(sched.Close)

	f := &fixture{
		scheduler: sched,
		history:   history,
		states:    states,
		workflows: workflows,
	}
	if stub, ok := engine.(*stubEngine); ok {
		f.engine = stub
	}

	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func fastConfig() Config {
	return Config{
		PricePollInterval: 10 * time.Millisecond,
		Execute: execution.ExecuteOptions{
			WaitForConfirmation: true,
			MinConfirmations:    1,
			ConfirmTimeout:      time.Second,
			PollInterval:        10 * time.Millisecond,
		},
	}
}

func oneShotTimeWorkflow(id string, fireAt time.Time) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:   id,
		Name: "One shot transfer",
		Trigger: models.TriggerSpec{
			Kind:   models.TriggerKindTime,
			FireAt: &fireAt,
		},
		Actions: []*models.Action{
			{
				Kind: models.ActionKindTransfer,
				Transfer: &models.TransferAction{
					Token:  "GAS",
					To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
					Amount: models.AmountSpec{Decimal: "1.5"},
				},
			},
		},
		SignerAddress: testSignerAddress,
	}
}

func priceWorkflow(id string, actions []*models.Action) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:   id,
		Name: "Buy the dip",
		Trigger: models.TriggerSpec{
			Kind:        models.TriggerKindPrice,
			Token:       "GAS",
			Comparator:  models.ComparatorBelow,
			TargetPrice: 5.0,
		},
		Actions:       actions,
		SignerAddress: testSignerAddress,
	}
}

func TestOneShotTimeTriggerFiresOnceAndCompletes(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 10}}, fastConfig())
	ctx := context.Background()

	triggerID, err := f.scheduler.Register(ctx, oneShotTimeWorkflow("wf-time", time.Now().UTC().Add(50*time.Millisecond)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.Status == models.TriggerStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, 1, trigger.TimesFired)
	assert.Equal(t, 1, f.engine.executions())

	records := f.history.byWorkflow("wf-time")
	require.Len(t, records, 1)
	assert.Equal(t, execution.OutcomeConfirmed, records[0].Outcome)
	assert.NotEmpty(t, records[0].TxID)

	state, err := f.states.Load(ctx, "wf-time")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.LastTriggeredAt)
	assert.False(t, state.IsActive)
}

func TestPriceTriggerFiresWhenConditionMet(t *testing.T) {
	// GAS at 4.50 against a below-5.00 condition fires immediately.
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 4.5, "FUSDT": 1.0}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-price", []*models.Action{
		{
			Kind: models.ActionKindSwap,
			Swap: &models.SwapAction{
				FromToken: "FUSDT",
				ToToken:   "GAS",
				Amount:    models.AmountSpec{PctBalance: 50},
			},
		},
	})

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.Status == models.TriggerStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	// One-shot semantics: fires once despite repeated polling.
	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, 1, trigger.TimesFired)
	assert.Equal(t, 1, f.engine.executions())

	records := f.history.byWorkflow("wf-price")
	require.Len(t, records, 1)
	assert.Equal(t, "swap", records[0].ActionKind)
}

func TestPriceTriggerDoesNotFireWhileConditionUnmet(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 6.2}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-price", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusActive, trigger.Status)
	assert.Zero(t, trigger.TimesFired)
	assert.Zero(t, f.engine.executions())

	// Polling is still recorded durably.
	state, err := f.states.Load(ctx, "wf-price")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Greater(t, state.CheckCount, int64(1))
}

func TestFiringStopsAtFirstFailedStep(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 4.5, "FUSDT": 1.0}}, fastConfig())
	ctx := context.Background()

	// Step 1 references a pool the contract registry does not know, so
	// its build fails after step 0 executed.
	definition := priceWorkflow("wf-multi", []*models.Action{
		{
			Kind: models.ActionKindSwap,
			Swap: &models.SwapAction{
				FromToken: "FUSDT",
				ToToken:   "GAS",
				Amount:    models.AmountSpec{PctBalance: 50},
			},
		},
		{
			Kind: models.ActionKindStake,
			Stake: &models.StakeAction{
				Token:  "GAS",
				Pool:   "no-such-pool",
				Amount: models.AmountSpec{PctBalance: 100},
			},
		},
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.Status == models.TriggerStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	// Only the first step reached the chain.
	assert.Equal(t, 1, f.engine.executions())

	records := f.history.byWorkflow("wf-multi")
	require.Len(t, records, 2)
	assert.Equal(t, execution.OutcomeConfirmed, records[0].Outcome)
	assert.Equal(t, execution.OutcomeFailed, records[1].Outcome)
	assert.Contains(t, records[1].Error, "unknown contract")

	state, err := f.states.Load(ctx, "wf-multi")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Contains(t, state.LastError, "unknown contract")
	assert.False(t, state.IsActive)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 6.0}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-cancel", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	assert.True(t, f.scheduler.Cancel(triggerID))
	assert.True(t, f.scheduler.Cancel(triggerID))
	assert.False(t, f.scheduler.Cancel("no-such-trigger"))

	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusCancelled, trigger.Status)
}

func TestRegisterRejectsUnknownPriceToken(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{}}, fastConfig())

	definition := priceWorkflow("wf-bad-token", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})
	definition.Trigger.Token = "DOGE"

	_, err := f.scheduler.Register(context.Background(), definition)
	assert.ErrorIs(t, err, registry.ErrUnknownToken)
}

func TestRegisterRejectsDuplicateWorkflow(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 6.0}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-dup", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	_, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	_, err = f.scheduler.Register(ctx, definition)
	assert.ErrorIs(t, err, ErrDuplicateWorkflow)
}

func TestErrorPauseThresholdStopsTrigger(t *testing.T) {
	cfg := fastConfig()
	cfg.ErrorPauseThreshold = 3

	// A dead market source degrades every poll to a synthetic sample,
	// which counts as a consecutive evaluation error.
	f := newFixture(t, &fixedSource{err: fmt.Errorf("market api down")}, cfg)
	ctx := context.Background()

	definition := priceWorkflow("wf-degraded", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})
	// Synthetic GAS prices land well above the target, so the trigger
	// never fires while the errors accumulate.
	definition.Trigger.Comparator = models.ComparatorAbove
	definition.Trigger.TargetPrice = 1e9

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.Status == models.TriggerStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	state, err := f.states.Load(ctx, "wf-degraded")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.GreaterOrEqual(t, state.ErrorCount, 3)
	assert.False(t, state.IsActive)
}

func TestRecoverResumesActiveTriggers(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 6.0}}, fastConfig())
	ctx := context.Background()

	active := priceWorkflow("wf-active", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})
	retired := priceWorkflow("wf-retired", active.Actions)

	require.NoError(t, f.workflows.Save(ctx, active))
	require.NoError(t, f.workflows.Save(ctx, retired))

	// The retired workflow's last persisted state is inactive.
	_, err := f.states.RecordCheck(ctx, "wf-retired", models.TriggerKindPrice, nil)
	require.NoError(t, err)
	state, err := f.states.Load(ctx, "wf-retired")
	require.NoError(t, err)
	state.IsActive = false
	require.NoError(t, f.states.Save(ctx, state))

	recovered, err := f.scheduler.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	_, ok := f.scheduler.TriggerForWorkflow("wf-active")
	assert.True(t, ok)

	_, ok = f.scheduler.TriggerForWorkflow("wf-retired")
	assert.False(t, ok)
}

func TestCancelLetsInFlightFiringFinish(t *testing.T) {
	engine := newBlockingEngine()
	f := newFixtureWithEngine(t, &fixedSource{prices: map[string]float64{"GAS": 4.5}}, fastConfig(), engine)
	ctx := context.Background()

	definition := priceWorkflow("wf-inflight", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	select {
	case <-engine.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("firing never reached the engine")
	}

	// Cancel lands while the broadcast is still in flight.
	require.True(t, f.scheduler.Cancel(triggerID))

	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusCancelled, trigger.Status)

	close(engine.release)

	require.Eventually(t, func() bool {
		return len(f.history.byWorkflow("wf-inflight")) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The step ran to completion on a live context.
	assert.False(t, engine.sawCancel.Load())
	assert.Equal(t, 1, engine.executions())

	records := f.history.byWorkflow("wf-inflight")
	require.Len(t, records, 1)
	assert.Equal(t, execution.OutcomeConfirmed, records[0].Outcome)

	trigger, err = f.scheduler.Status(triggerID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusCancelled, trigger.Status)
	assert.Equal(t, 1, trigger.TimesFired)
}

func TestRecurringCronTriggerRearms(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 10}}, fastConfig())
	ctx := context.Background()

	definition := &models.WorkflowDefinition{
		ID:   "wf-cron",
		Name: "Sweep every second",
		Trigger: models.TriggerSpec{
			Kind: models.TriggerKindTime,
			Cron: "* * * * * *",
		},
		Actions: []*models.Action{
			{
				Kind: models.ActionKindTransfer,
				Transfer: &models.TransferAction{
					Token:  "GAS",
					To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
					Amount: models.AmountSpec{Decimal: "0.1"},
				},
			},
		},
		SignerAddress: testSignerAddress,
	}

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	// The trigger fires on the next second boundary and re-arms instead
	// of completing.
	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.TimesFired >= 1 && trigger.Status == models.TriggerStatusActive
	}, 5*time.Second, 10*time.Millisecond)

	trigger, err := f.scheduler.Status(triggerID)
	require.NoError(t, err)
	require.NotNil(t, trigger.NextFireAt)
	assert.True(t, trigger.NextFireAt.After(trigger.CreatedAt))

	state, err := f.states.Load(ctx, "wf-cron")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsActive)
	assert.NotNil(t, state.LastTriggeredAt)
}

func TestRecurringPriceTriggerRefires(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 4.5}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-recurring", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})
	definition.Trigger.Recurring = true

	triggerID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(triggerID)

		return err == nil && trigger.TimesFired >= 2 && trigger.Status == models.TriggerStatusActive
	}, 3*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, f.engine.executions(), 2)

	state, err := f.states.Load(ctx, "wf-recurring")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsActive)
	assert.NotNil(t, state.LastTriggeredAt)
}

func TestRegisterAfterCloseWritesNoState(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 6.0}}, fastConfig())
	ctx := context.Background()

	f.scheduler.Close()

	_, err := f.scheduler.Register(ctx, priceWorkflow("wf-late", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	}))
	require.ErrorIs(t, err, ErrSchedulerClosed)

	state, err := f.states.Load(ctx, "wf-late")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFailedWorkflowCanBeRegisteredAgain(t *testing.T) {
	f := newFixture(t, &fixedSource{prices: map[string]float64{"GAS": 4.5}}, fastConfig())
	ctx := context.Background()

	definition := priceWorkflow("wf-retry", []*models.Action{
		{
			Kind: models.ActionKindStake,
			Stake: &models.StakeAction{
				Token:  "GAS",
				Pool:   "no-such-pool",
				Amount: models.AmountSpec{PctBalance: 100},
			},
		},
	})

	failedID, err := f.scheduler.Register(ctx, definition)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(failedID)

		return err == nil && trigger.Status == models.TriggerStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	// The failed trigger released the workflow slot but stays queryable
	// by id.
	_, ok := f.scheduler.TriggerForWorkflow("wf-retry")
	assert.False(t, ok)

	fixed := priceWorkflow("wf-retry", []*models.Action{
		{
			Kind: models.ActionKindTransfer,
			Transfer: &models.TransferAction{
				Token:  "GAS",
				To:     "NiNmXL8FeiFdbuwjaeHKw4AFzM3PFbUbLH",
				Amount: models.AmountSpec{Decimal: "1"},
			},
		},
	})

	retryID, err := f.scheduler.Register(ctx, fixed)
	require.NoError(t, err)
	assert.NotEqual(t, failedID, retryID)

	require.Eventually(t, func() bool {
		trigger, err := f.scheduler.Status(retryID)

		return err == nil && trigger.Status == models.TriggerStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	state, err := f.states.Load(ctx, "wf-retry")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.LastTriggeredAt)
}
