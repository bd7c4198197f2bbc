package triggerstate

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
)

// FileStore keeps one JSON record per workflow under a dedicated state
// directory. Every save goes through a temp file and an atomic rename so a
// crash mid-write leaves either the previous record or nothing.
type FileStore struct {
	root   string
	logger *slog.Logger

	// Serializes read-modify-write cycles (RecordCheck, RecordFire).
	mu sync.Mutex
}

// NewFileStore creates the state directory if needed.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create trigger state directory: %w", err)
	}

	return &FileStore{
		root:   root,
		logger: logger.With("module", "trigger_state_store"),
	}, nil
}

// sanitizeID turns a workflow id into a safe filename component. Path
// separators and traversal sequences are replaced, never interpreted.
func sanitizeID(workflowID string) (string, error) {
	if workflowID == "" {
		return "", ErrEmptyWorkflowID
	}

	var b strings.Builder

	for _, r := range workflowID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := b.String()
	if strings.Trim(name, "_") == "" {
		return "", fmt.Errorf("workflow id %q sanitizes to nothing", workflowID)
	}

	return name, nil
}

func (s *FileStore) path(workflowID string) (string, error) {
	name, err := sanitizeID(workflowID)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.root, name+".json"), nil
}

// Save writes the record atomically: temp file in the same directory, then
// rename into place.
func (s *FileStore) Save(_ context.Context, state *models.TriggerState) error {
	path, err := s.path(state.WorkflowID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trigger state %s: %w", state.WorkflowID, err)
	}

	tmp, err := os.CreateTemp(s.root, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write trigger state %s: %w", state.WorkflowID, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replace trigger state %s: %w", state.WorkflowID, err)
	}

	return nil
}

// Load returns nil without error when the record does not exist.
func (s *FileStore) Load(_ context.Context, workflowID string) (*models.TriggerState, error) {
	path, err := s.path(workflowID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read trigger state %s: %w", workflowID, err)
	}

	var state models.TriggerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal trigger state %s: %w", workflowID, err)
	}

	return &state, nil
}

// Delete removes the record, reporting whether one existed.
func (s *FileStore) Delete(_ context.Context, workflowID string) (bool, error) {
	path, err := s.path(workflowID)
	if err != nil {
		return false, err
	}

	err = os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("delete trigger state %s: %w", workflowID, err)
	}

	return true, nil
}

// ListAll returns every readable record. Corrupt or half-written files are
// skipped with a warning; they never fail the listing.
func (s *FileStore) ListAll(_ context.Context) ([]*models.TriggerState, error) {
	entries, err := fs.Glob(os.DirFS(s.root), "*.json")
	if err != nil {
		return nil, fmt.Errorf("list trigger states: %w", err)
	}

	states := make([]*models.TriggerState, 0, len(entries))

	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(s.root, entry))
		if err != nil {
			s.logger.Warn("Skipping unreadable trigger state file", "file", entry, "error", err)

			continue
		}

		var state models.TriggerState
		if err := json.Unmarshal(data, &state); err != nil {
			s.logger.Warn("Skipping corrupt trigger state file", "file", entry, "error", err)

			continue
		}

		states = append(states, &state)
	}

	return states, nil
}

// ListActive filters ListAll down to records marked active.
func (s *FileStore) ListActive(ctx context.Context) ([]*models.TriggerState, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.TriggerState, 0, len(all))

	for _, state := range all {
		if state.IsActive {
			active = append(active, state)
		}
	}

	return active, nil
}

// RecordCheck registers one evaluation cycle, creating the record on the
// first check of a trigger.
func (s *FileStore) RecordCheck(ctx context.Context, workflowID string, kind models.TriggerKind, checkErr error) (*models.TriggerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if state == nil {
		state = &models.TriggerState{
			WorkflowID:  workflowID,
			TriggerType: kind,
			IsActive:    true,
		}
	}

	msg := ""
	if checkErr != nil {
		msg = checkErr.Error()
	}

	state.MarkChecked(time.Now().UTC(), msg)

	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}

	return state, nil
}

// RecordFire stamps the last-triggered time on an existing record.
func (s *FileStore) RecordFire(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Load(ctx, workflowID)
	if err != nil {
		return err
	}

	if state == nil {
		state = &models.TriggerState{WorkflowID: workflowID, IsActive: true}
	}

	state.MarkTriggered(time.Now().UTC())

	return s.Save(ctx, state)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
