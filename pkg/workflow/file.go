package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
)

// FileRepository reads workflow definitions from a directory of JSON
// documents, one file per workflow, named <id>.json. Documents are
// schema-checked and model-validated on every read so a hand-edited
// file cannot smuggle an invalid workflow into the scheduler.
type FileRepository struct {
	root   string
	logger *slog.Logger
}

func NewFileRepository(root string, logger *slog.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow directory: %w", err)
	}

	return &FileRepository{
		root:   root,
		logger: logger.With("module", "workflow"),
	}, nil
}

func (r *FileRepository) FetchAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	entries, err := fs.Glob(os.DirFS(r.root), "*.json")
	if err != nil {
		return nil, fmt.Errorf("list workflow documents: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		definition, err := r.load(filepath.Join(r.root, entry))
		if err != nil {
			r.logger.Warn("Skipping invalid workflow document", "file", entry, "error", err)

			continue
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

func (r *FileRepository) FetchByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := r.load(filepath.Join(r.root, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}

		return nil, err
	}

	return definition, nil
}

func (r *FileRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := definition.Validate(time.Now().UTC()); err != nil {
		return err
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = time.Now().UTC()
	}

	definition.UpdatedAt = time.Now().UTC()

	document, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", definition.ID, err)
	}

	path := filepath.Join(r.root, definition.ID+".json")

	tmp, err := os.CreateTemp(r.root, definition.ID+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create workflow temp file: %w", err)
	}

	if _, err := tmp.Write(document); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write workflow %s: %w", definition.ID, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close workflow temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("persist workflow %s: %w", definition.ID, err)
	}

	return nil
}

func (r *FileRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(filepath.Join(r.root, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}

		return fmt.Errorf("delete workflow %s: %w", id, err)
	}

	return nil
}

func (r *FileRepository) load(path string) (*models.WorkflowDefinition, error) {
	document, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateDocument(document); err != nil {
		return nil, err
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(document, &definition); err != nil {
		return nil, fmt.Errorf("decode workflow document: %w", err)
	}

	if err := definition.Validate(time.Now().UTC()); err != nil {
		return nil, err
	}

	return &definition, nil
}
