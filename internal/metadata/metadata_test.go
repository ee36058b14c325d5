package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "metadata.sqlite")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func sampleRecord() Record {
	return Record{
		SeriesID:        "us_cpi",
		Provider:        "fred",
		ProviderSymbol:  "CPIAUCSL",
		Category:        "inflation",
		FrequencyTarget: "daily",
		Timezone:        "UTC",
		Units:           "index",
		Transform:       "none",
		Enabled:         true,
		Status:          "ok",
		Message:         "ok",
		LastRunAt:       time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		StoredPath:      "data/series/us_cpi.tsz",
		NewPoints:       3,
	}
}

func TestOpen_CreatesDatabaseAndDirectory(t *testing.T) {
	_, path := openDB(t)

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.sqlite")
	for i := 0; i < 3; i++ {
		db, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, db.Close())
	}

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_AppliesWALMode(t *testing.T) {
	db, _ := openDB(t)

	var mode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestGet_Missing(t *testing.T) {
	db, _ := openDB(t)

	_, ok, err := db.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsert_InsertThenGet(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	okAt := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	obs := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := sampleRecord()
	rec.LastOKAt = &okAt
	rec.LastObservationDate = &obs
	rec.RevisionOverwrites = 2

	require.NoError(t, db.Upsert(ctx, rec))

	got, ok, err := db.Get(ctx, "us_cpi")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestUpsert_ErrorRunKeepsLastOK(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	okAt := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	rec := sampleRecord()
	rec.LastOKAt = &okAt
	require.NoError(t, db.Upsert(ctx, rec))

	failed := sampleRecord()
	failed.Status = "error"
	failed.Message = "provider fetch failed"
	failed.LastRunAt = time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	failed.StoredPath = ""
	failed.NewPoints = 0
	require.NoError(t, db.Upsert(ctx, failed))

	got, ok, err := db.Get(ctx, "us_cpi")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "error", got.Status)
	assert.Equal(t, failed.LastRunAt, got.LastRunAt)
	require.NotNil(t, got.LastOKAt)
	assert.Equal(t, okAt, *got.LastOKAt)
	assert.Empty(t, got.StoredPath)
}

func TestList_OrderedByID(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	for _, id := range []string{"vix", "sp500", "us_cpi"} {
		rec := sampleRecord()
		rec.SeriesID = id
		require.NoError(t, db.Upsert(ctx, rec))
	}

	recs, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "sp500", recs[0].SeriesID)
	assert.Equal(t, "us_cpi", recs[1].SeriesID)
	assert.Equal(t, "vix", recs[2].SeriesID)
}

func TestList_Empty(t *testing.T) {
	db, _ := openDB(t)

	recs, err := db.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}
