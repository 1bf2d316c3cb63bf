package duck

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsStatements(t *testing.T) {
	t.Parallel()

	s := Settings{MemoryLimit: "12GB", Threads: 4}
	require.Equal(t, []string{"SET memory_limit='12GB'", "SET threads TO 4"}, s.statements())
}

func TestSettingsDefaultToAllCores(t *testing.T) {
	t.Parallel()

	s := Settings{}
	require.Equal(t, []string{fmt.Sprintf("SET threads TO %d", runtime.NumCPU())}, s.statements())
}

func TestOpenAppliesSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Opener{Settings: Settings{MemoryLimit: "1GB", Threads: 2}}.Open(ctx)
	require.NoError(t, err)
	defer db.Close()

	cols, rows, err := db.Query(ctx, "SELECT current_setting('threads')")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	require.Equal(t, [][]string{{"2"}}, rows)
}

func TestInsertBatchAndHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Opener{Settings: Settings{Threads: 1}}.Open(ctx)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Exec(ctx, "CREATE TABLE tickers (ticker VARCHAR, asset_type VARCHAR)"))
	require.NoError(t, db.InsertBatch(ctx, "INSERT INTO tickers VALUES (?, ?)", [][]any{
		{"AAPL", "CS"},
		{"SPY", "ETF"},
		{"MSFT", "CS"},
	}))

	n, err := db.Count(ctx, "SELECT COUNT(*) FROM tickers WHERE asset_type = ?", "CS")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestIntsReturnsColumnInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Opener{Settings: Settings{Threads: 1}}.Open(ctx)
	require.NoError(t, err)
	defer db.Close()

	years, err := db.Ints(ctx, "SELECT * FROM (VALUES (2003), (2001), (2002)) t(y) ORDER BY y")
	require.NoError(t, err)
	require.Equal(t, []int64{2001, 2002, 2003}, years)
}

func TestQueryRendersNullsAndDates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Opener{Settings: Settings{Threads: 1}}.Open(ctx)
	require.NoError(t, err)
	defer db.Close()

	cols, rows, err := db.Query(ctx, "SELECT CAST(NULL AS VARCHAR) AS a, DATE '2024-01-15' AS b")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, cols)
	require.Equal(t, [][]string{{"NULL", "2024-01-15"}}, rows)
}

func TestInsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Opener{Settings: Settings{Threads: 1}}.Open(ctx)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InsertBatch(ctx, "INSERT INTO missing VALUES (?)", nil))
}
