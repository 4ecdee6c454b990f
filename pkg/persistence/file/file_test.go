package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/persistence"
)

func TestRunRepository_SaveAndGet(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.RunRepository()
	ctx := context.Background()

	record := &persistence.RunRecord{
		RunID:          "run-abc",
		RepositoryPath: "/repo",
		StartedAt:      time.Now().UTC().Add(-time.Minute),
		FinishedAt:     time.Now().UTC(),
		Success:        true,
		CommitID:       "c1",
		Message:        "Refactor auth module",
		Duration:       time.Minute,
	}

	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.GetByID(ctx, "run-abc")
	require.NoError(t, err)
	assert.Equal(t, record.CommitID, got.CommitID)
	assert.Equal(t, record.Message, got.Message)
	assert.True(t, got.Success)
}

func TestRunRepository_GetMissing(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	_, err := fp.RunRepository().GetByID(context.Background(), "run-missing")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestRunRepository_ListNewestFirst(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.RunRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	older := &persistence.RunRecord{RunID: "run-old", FinishedAt: now.Add(-time.Hour), FailedStage: events.StagePushing}
	newer := &persistence.RunRecord{RunID: "run-new", FinishedAt: now, Success: true}

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	records, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-new", records[0].RunID)
	assert.Equal(t, "run-old", records[1].RunID)
}

func TestRunRepository_ListEmpty(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	records, err := fp.RunRepository().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}
