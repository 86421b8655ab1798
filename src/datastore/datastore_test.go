package datastore

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore opens a throwaway SQLite database under t.TempDir()
func setupTestStore(t *testing.T) (*DataStoreSql, string) {
	dbPath := filepath.Join(t.TempDir(), "missions.db")
	ds, err := NewDataStoreSql("sqlite", dbPath)
	require.NoError(t, err)

	store, ok := ds.(*DataStoreSql)
	require.True(t, ok, "returned store is not *DataStoreSql")
	return store, dbPath
}

func record(id string, started time.Time, errText string) inter.UploadRecord {
	state := "Succeeded"
	if errText != "" {
		state = "Failed"
	}
	return inter.UploadRecord{
		ID:         id,
		Endpoint:   "udpin:127.0.0.1:14550",
		ItemCount:  5,
		ItemsSent:  5,
		State:      state,
		Error:      errText,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestDataStoreSql_UploadLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("RecordUpload", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			errText := ""
			if i == 1 {
				errText = "mission rejected by vehicle in AwaitingAck: MAV_MISSION_NO_SPACE"
			}
			require.NoError(t, store.RecordUpload(record(fmt.Sprintf("upload-%d", i), base.Add(time.Duration(i)*time.Minute), errText)))
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		assert.Error(t, store.RecordUpload(record("upload-0", base, "")))
	})

	t.Run("GetUpload", func(t *testing.T) {
		rec, err := store.GetUpload("upload-1")
		require.NoError(t, err)
		assert.Equal(t, "Failed", rec.State)
		assert.False(t, rec.Succeeded())
		assert.Equal(t, 5, rec.ItemCount)
		assert.WithinDuration(t, base.Add(time.Minute), rec.StartedAt, time.Millisecond)
		assert.WithinDuration(t, base.Add(time.Minute+1500*time.Millisecond), rec.FinishedAt, time.Millisecond)
	})

	t.Run("ListUploadsNewestFirst", func(t *testing.T) {
		recs, err := store.ListUploads(10)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "upload-2", recs[0].ID)
		assert.Equal(t, "upload-0", recs[2].ID)
		assert.True(t, recs[0].Succeeded())
	})

	t.Run("ListUploadsLimit", func(t *testing.T) {
		recs, err := store.ListUploads(1)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "upload-2", recs[0].ID)

		recs, err = store.ListUploads(0)
		require.NoError(t, err)
		assert.Len(t, recs, 3)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.GetUpload("missing")
		assert.True(t, errors.Is(err, inter.ErrNotFound))
	})
}

func TestDataStoreSql_Persistence(t *testing.T) {
	store, dbPath := setupTestStore(t)
	require.NoError(t, store.RecordUpload(record("kept", time.Now(), "")))
	require.NoError(t, store.Close())

	reopened, err := NewDataStoreSql("sqlite", dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.GetUpload("kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", rec.ID)
}

func TestDataStoreSql_RejectsEmptyID(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	assert.Error(t, store.RecordUpload(inter.UploadRecord{}))
}

func TestNewDataStoreSql_UnknownDriver(t *testing.T) {
	_, err := NewDataStoreSql("mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?"
	assert.Equal(t, q, rebind("sqlite", q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3", rebind("pgx", q))
}
