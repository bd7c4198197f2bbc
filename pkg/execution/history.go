package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Step outcomes recorded in history.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"
)

// StepRecord is one executed (or attempted) action step of a trigger
// firing.
type StepRecord struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	FiringID   string    `json:"firing_id"`
	StepIndex  int       `json:"step_index"`
	ActionKind string    `json:"action_kind"`
	TxID       string    `json:"tx_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// History is the durable per-step execution log, backed by sqlite with a
// file lock serializing writers across processes.
type History struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenHistory(path, lockPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS firing_steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			firing_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			finished_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_steps_workflow_finished ON firing_steps(workflow_id, finished_at DESC);",
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("init history schema: %w", err)
		}
	}

	return &History{db: db, lock: flock.New(lockPath)}, nil
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}

	return h.db.Close()
}

// Record persists one step. A missing id is filled in; finished time
// defaults to now so partial records still sort.
func (h *History) Record(ctx context.Context, record StepRecord) error {
	if strings.TrimSpace(record.WorkflowID) == "" {
		return fmt.Errorf("record firing step: missing workflow id")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}

	locked, err := h.lock.TryLockContext(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock history store: %w", err)
	}

	if !locked {
		return fmt.Errorf("lock history store: timeout acquiring lock")
	}

	defer func() { _ = h.lock.Unlock() }()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal firing step: %w", err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO firing_steps (id, workflow_id, firing_id, step_index, outcome, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome=excluded.outcome,
			finished_at=excluded.finished_at,
			payload=excluded.payload
	`, record.ID, record.WorkflowID, record.FiringID, record.StepIndex, record.Outcome, record.FinishedAt.Unix(), payload)
	if err != nil {
		return fmt.Errorf("record firing step: %w", err)
	}

	return nil
}

// ListByWorkflow returns the most recent steps for a workflow, newest
// first, ties broken by step order within a firing.
func (h *History) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]StepRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT payload FROM firing_steps
		WHERE workflow_id = ?
		ORDER BY finished_at DESC, step_index ASC
		LIMIT ?
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list firing steps: %w", err)
	}

	defer rows.Close()

	records := make([]StepRecord, 0)

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan firing step row: %w", err)
		}

		var record StepRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode firing step row: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firing step rows: %w", err)
	}

	return records, nil
}

// ListByFiring returns every step of one firing in step order.
func (h *History) ListByFiring(ctx context.Context, firingID string) ([]StepRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT payload FROM firing_steps
		WHERE firing_id = ?
		ORDER BY step_index ASC
	`, firingID)
	if err != nil {
		return nil, fmt.Errorf("list firing steps: %w", err)
	}

	defer rows.Close()

	records := make([]StepRecord, 0)

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan firing step row: %w", err)
		}

		var record StepRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode firing step row: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firing step rows: %w", err)
	}

	return records, nil
}
