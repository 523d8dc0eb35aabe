package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranLegon/drive-upload/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(GetDBPath(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndListUploads(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := &model.UploadRecord{
		Path:       "/tmp/a.txt",
		Title:      "a.txt",
		FileID:     "file-1",
		Mode:       "simple",
		Size:       10,
		BytesSent:  10,
		Status:     model.UploadCompleted,
		StartedAt:  start,
		Duration:   1500 * time.Millisecond,
		AccountKey: "someone@example.com",
	}
	failed := &model.UploadRecord{
		Path:       "/tmp/b.bin",
		Title:      "b.bin",
		Mode:       "resumable",
		Size:       1 << 20,
		BytesSent:  512 << 10,
		Retries:    5,
		Status:     model.UploadFailed,
		Error:      "transient failures exceeded retry limit",
		StartedAt:  start.Add(time.Minute),
		AccountKey: "someone@example.com",
	}
	require.NoError(t, db.RecordUpload(ctx, ok))
	require.NoError(t, db.RecordUpload(ctx, failed))
	assert.NotEmpty(t, ok.ID)

	records, err := db.RecentUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// newest first
	assert.Equal(t, "b.bin", records[0].Title)
	assert.Equal(t, model.UploadFailed, records[0].Status)
	assert.Equal(t, 5, records[0].Retries)
	assert.Empty(t, records[0].FileID)

	assert.Equal(t, ok.ID, records[1].ID)
	assert.Equal(t, "file-1", records[1].FileID)
	assert.True(t, start.Equal(records[1].StartedAt))
	assert.Equal(t, 1500*time.Millisecond, records[1].Duration)

	limited, err := db.RecentUploads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.UploadCompleted])
	assert.Equal(t, 1, counts[model.UploadFailed])
}

func TestInitializeIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Initialize())
}

func TestRecordUploadRejectsDuplicateID(t *testing.T) {
	db := openTestDB(t)
	rec := &model.UploadRecord{ID: "same", Path: "p", Title: "t", Mode: "simple", Status: model.UploadCompleted, StartedAt: time.Now()}
	require.NoError(t, db.RecordUpload(context.Background(), rec))
	assert.Error(t, db.RecordUpload(context.Background(), rec))
}
