// Package file provides file-based persistence for run records. Each record
// is one JSON file under the daemon's state directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/colinrozzi/th-commit/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system.
type Persistence struct {
	root    string
	runRepo *RunRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:    cleanRoot,
		runRepo: NewRunRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there
// is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the state directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

// RunRepository stores each run record as <root>/runs/<run_id>.json.
type RunRepository struct {
	root string
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: filepath.Join(root, "runs")}
}

func (r *RunRepository) Save(_ context.Context, record *persistence.RunRecord) error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record %s: %w", record.RunID, err)
	}

	path := filepath.Join(r.root, record.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run record %s: %w", record.RunID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(_ context.Context, runID string) (*persistence.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(r.root, runID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, runID)
		}

		return nil, fmt.Errorf("failed to read run record %s: %w", runID, err)
	}

	var record persistence.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode run record %s: %w", runID, err)
	}

	return &record, nil
}

// List returns all run records, most recently finished first.
func (r *RunRepository) List(ctx context.Context) ([]*persistence.RunRecord, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list run records: %w", err)
	}

	records := make([]*persistence.RunRecord, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		record, err := r.GetByID(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})

	return records, nil
}
