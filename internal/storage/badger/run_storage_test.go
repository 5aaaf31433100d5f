package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/models"
)

func TestIngestionRunStorage_ListAndLatest(t *testing.T) {
	db := newTestDB(t)
	storage := NewIngestionRunStorage(db, arbor.NewLogger())
	ctx := context.Background()

	latest, err := storage.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		report := &models.IngestionReport{
			RunID:      id,
			Source:     "stock.csv",
			Inserted:   i,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		var runErr error
		if id == "run-3" {
			runErr = errors.New("disk full")
		}
		require.NoError(t, storage.SaveRun(ctx, models.NewIngestionRun(report, runErr)))
	}

	runs, err := storage.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "disk full", runs[0].Error)
	assert.Equal(t, "run-2", runs[1].ID)

	// Failed runs do not count as the last successful ingestion
	latest, err = storage.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)

	got, err := storage.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Inserted)

	_, err = storage.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestIngestionRunStorage_RequiresID(t *testing.T) {
	db := newTestDB(t)
	storage := NewIngestionRunStorage(db, arbor.NewLogger())

	err := storage.SaveRun(context.Background(), &models.IngestionRun{})
	assert.Error(t, err)
}
