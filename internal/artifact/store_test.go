package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestPublishFirstTimeRenamesStaged(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, store.StagingPath("tickers.parquet"), "v1")

	require.NoError(t, store.Publish("tickers.parquet.tmp", "tickers.parquet"))
	require.Equal(t, "v1", readFile(t, store.Path("tickers.parquet")))
	require.ElementsMatch(t, []string{"tickers.parquet"}, names(t, store.Root()))
}

func TestPublishReplacesExistingFile(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, store.Path("tickers.parquet"), "old")
	writeFile(t, store.StagingPath("tickers.parquet"), "new")

	require.NoError(t, store.Publish("tickers.parquet.tmp", "tickers.parquet"))
	require.Equal(t, "new", readFile(t, store.Path("tickers.parquet")))
	require.ElementsMatch(t, []string{"tickers.parquet"}, names(t, store.Root()))
}

func TestPublishReplacesExistingDirectory(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, filepath.Join(store.Path("prices"), "year=2020", "data.parquet"), "old")
	writeFile(t, filepath.Join(store.BuildingPath("prices"), "year=2020", "data.parquet"), "new")
	writeFile(t, filepath.Join(store.BuildingPath("prices"), "year=2021", "data.parquet"), "new")

	require.NoError(t, store.Publish("prices_building", "prices"))
	require.Equal(t, "new", readFile(t, filepath.Join(store.Path("prices"), "year=2020", "data.parquet")))
	require.Equal(t, "new", readFile(t, filepath.Join(store.Path("prices"), "year=2021", "data.parquet")))
	require.ElementsMatch(t, []string{"prices"}, names(t, store.Root()))
}

func TestPublishMissingStagedFails(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, store.Path("tickers.parquet"), "old")

	require.Error(t, store.Publish("tickers.parquet.tmp", "tickers.parquet"))
	require.Equal(t, "old", readFile(t, store.Path("tickers.parquet")))
}

func TestCleanStaleRemovesResidueOnly(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, store.Path("tickers.parquet"), "keep")
	writeFile(t, store.Path(".build_manifest.json"), "keep")
	writeFile(t, filepath.Join(store.Path("prices"), "year=2020", "data.parquet"), "keep")

	writeFile(t, store.StagingPath("market_cap.parquet"), "stale")
	writeFile(t, filepath.Join(store.BuildingPath("prices"), "year=2020", "data.parquet"), "stale")
	writeFile(t, filepath.Join(store.Path("prices_old"), "year=2019", "data.parquet"), "stale")
	writeFile(t, filepath.Join(store.ScratchPath("prices_temp_fragments"), "year=2020", "a.parquet"), "stale")

	removed, err := store.CleanStale()
	require.NoError(t, err)
	require.Equal(t, []string{"_prices_temp_fragments", "market_cap.parquet.tmp", "prices_building", "prices_old"}, removed)
	require.ElementsMatch(t, []string{"tickers.parquet", ".build_manifest.json", "prices"}, names(t, store.Root()))
}

func TestCleanStaleMissingRootIsNoop(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "absent"))

	removed, err := store.CleanStale()
	require.NoError(t, err)
	require.Empty(t, removed)
}

// An interruption between the backup rename and the swap leaves only a _old
// entry; the sweep removes it and a rerun publishes cleanly.
func TestInterruptedSwapRecoversOnRerun(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, filepath.Join(store.Path("daily_aggs_old"), "year=2020", "data.parquet"), "orphaned")
	writeFile(t, filepath.Join(store.BuildingPath("daily_aggs"), "year=2020", "data.parquet"), "partial")

	removed, err := store.CleanStale()
	require.NoError(t, err)
	require.Equal(t, []string{"daily_aggs_building", "daily_aggs_old"}, removed)

	writeFile(t, filepath.Join(store.BuildingPath("daily_aggs"), "year=2020", "data.parquet"), "rebuilt")
	require.NoError(t, store.Publish("daily_aggs_building", "daily_aggs"))
	require.Equal(t, "rebuilt", readFile(t, filepath.Join(store.Path("daily_aggs"), "year=2020", "data.parquet")))
	require.ElementsMatch(t, []string{"daily_aggs"}, names(t, store.Root()))
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	writeFile(t, store.Path("daily_aggs.parquet"), "superseded")

	require.NoError(t, store.Remove("daily_aggs.parquet"))
	require.NoError(t, store.Remove("daily_aggs.parquet"))
	require.Empty(t, names(t, store.Root()))
}
