package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/bl4ck0w1/easmscan/pkg/models"
)

func sampleResult(id string, ts time.Time) *models.ScanResult {
	return &models.ScanResult{
		ScanID:    id,
		Target:    models.Target{URL: "https://example.com"},
		Timestamp: ts,
		Duration:  2 * time.Second,
		Issues:    []models.Issue{{ID: "i1", Title: "x", Severity: models.SeverityHigh}},
		Summary:   models.Summary{TotalIssues: 1, HighCount: 1},
	}
}

func TestResultStore_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		dir := t.TempDir()
		store, err := NewResultStore(dir, compress, nil)
		require.NoError(t, err)

		ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		path, err := store.Save(sampleResult("scan_1", ts))
		require.NoError(t, err)
		if compress {
			assert.Equal(t, filepath.Join(dir, "results", "scan_1.json.gz"), path)
		} else {
			assert.Equal(t, filepath.Join(dir, "results", "scan_1.json"), path)
		}

		// fresh store reads from disk, not the cache
		reopened, err := NewResultStore(dir, compress, nil)
		require.NoError(t, err)
		got, err := reopened.Load("scan_1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.Target.URL)
		assert.Equal(t, 1, got.Summary.TotalIssues)
		assert.Equal(t, 2*time.Second, got.Duration)
		assert.True(t, ts.Equal(got.Timestamp))
	}
}

func TestResultStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewResultStore(t.TempDir(), false, nil)
	require.NoError(t, err)

	_, err = store.Load("scan_missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = store.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultStore_SaveRejectsBadID(t *testing.T) {
	t.Parallel()

	store, err := NewResultStore(t.TempDir(), false, nil)
	require.NoError(t, err)

	_, err = store.Save(sampleResult("../x", time.Now()))
	assert.Error(t, err)
	_, err = store.Save(nil)
	assert.Error(t, err)
}

func TestResultStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	store, err := NewResultStore(t.TempDir(), false, nil)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"scan_a", "scan_b", "scan_c"} {
		_, err := store.Save(sampleResult(id, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o600))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"scan_c", "scan_b", "scan_a"}, []string{list[0].ScanID, list[1].ScanID, list[2].ScanID})
	assert.Equal(t, 1, list[0].TotalIssues)
	assert.Equal(t, int64(2000), list[0].DurationMs)
}

func TestResultStore_PruneAndStats(t *testing.T) {
	t.Parallel()

	store, err := NewResultStore(t.TempDir(), false, nil)
	require.NoError(t, err)

	oldPath, err := store.Save(sampleResult("scan_old", time.Now()))
	require.NoError(t, err)
	_, err = store.Save(sampleResult("scan_new", time.Now()))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed, err := store.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Load("scan_old")
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = store.Load("scan_new")
	assert.NoError(t, err)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["results"])
	assert.Equal(t, false, stats["compression_enabled"])

	n, err := store.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
