package steps

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	millerrors "github.com/avelline/marketmill/pkg/errors"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/config"
	"github.com/avelline/marketmill/internal/engine"
)

type stubConn struct {
	execs   []string
	inserts [][]any
	count   int64
	closed  bool
	onExec  func(query string) error
}

var _ engine.Conn = (*stubConn)(nil)

func (c *stubConn) Exec(ctx context.Context, query string, args ...any) error {
	c.execs = append(c.execs, query)
	if c.onExec != nil {
		return c.onExec(query)
	}
	return nil
}

func (c *stubConn) Count(ctx context.Context, query string, args ...any) (int64, error) {
	return c.count, nil
}

func (c *stubConn) Ints(ctx context.Context, query string, args ...any) ([]int64, error) {
	return nil, nil
}

func (c *stubConn) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	c.inserts = append(c.inserts, rows...)
	return nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

type stubConnector struct {
	make  func() *stubConn
	conns []*stubConn
}

func (c *stubConnector) Connect(ctx context.Context) (engine.Conn, error) {
	conn := c.make()
	c.conns = append(c.conns, conn)
	return conn, nil
}

func writeZip(t *testing.T, path string, members ...string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, name := range members {
		member, err := w.Create(name)
		require.NoError(t, err)
		_, err = member.Write([]byte("2024-01-02 09:00:00,1,2,0.5,1.5,100"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func newDeps(t *testing.T, connector engine.Connector) Deps {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataSources = filepath.Join(root, "data_sources")
	cfg.Paths.Output = filepath.Join(root, "db")

	store := artifact.NewStore(cfg.Paths.Output)
	require.NoError(t, store.EnsureRoot())

	return Deps{Config: cfg, Store: store, Connector: connector}
}

func TestRegisterAllWiresPipeline(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry()
	require.NoError(t, RegisterAll(reg, newDeps(t, &stubConnector{make: func() *stubConn { return &stubConn{count: 1} }})))

	steps := reg.Steps()
	require.Len(t, steps, 6)

	want := []struct {
		id     string
		target string
		deps   []string
	}{
		{"tickers_v1", "tickers", nil},
		{"prices_v2", "prices", []string{"tickers"}},
		{"daily_aggs_v2", "daily_aggs", []string{"prices"}},
		{"hundred_day_aggs_v1", "hundred_day_aggs", []string{"daily_aggs"}},
		{"market_cap_v2", "market_cap", []string{"tickers"}},
		{"insider_trades_v2", "insider_trades", []string{"tickers"}},
	}
	for i, w := range want {
		require.Equal(t, w.id, steps[i].ID)
		require.Equal(t, w.target, steps[i].Target)
		require.Equal(t, w.deps, steps[i].DependsOn)
		require.NotNil(t, steps[i].Action)
	}

	require.NoError(t, reg.Validate())
}

func TestClassifyTickersEtfWinsOnOverlap(t *testing.T) {
	t.Parallel()

	rows, overlap := classifyTickers(
		[]string{"AAPL", "MSFT", "SPY"},
		[]string{"QQQ", "SPY"},
	)

	require.Equal(t, [][]any{
		{"AAPL", "stock"},
		{"MSFT", "stock"},
		{"QQQ", "etf"},
		{"SPY", "etf"},
	}, rows)
	require.Equal(t, 1, overlap)
}

func TestQuoteLiteralEscapesQuotes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "'/db/tickers.parquet'", quoteLiteral("/db/tickers.parquet"))
	require.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestVerifyParquetFailsBelowMinimum(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 0} }}
	_, err := verifyParquet(context.Background(), connector, "/db/tickers.parquet", 1)

	var verr *millerrors.VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "/db/tickers.parquet", verr.Path)
	require.EqualValues(t, 0, verr.Rows)
	require.EqualValues(t, 1, verr.MinRows)
	require.Len(t, connector.conns, 1)
	require.True(t, connector.conns[0].closed)
}

func TestVerifyParquetPassesAtMinimum(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 42} }}
	rows, err := verifyParquet(context.Background(), connector, "/db/prices", 1)
	require.NoError(t, err)
	require.EqualValues(t, 42, rows)
}

func TestTickersActionDiscoversClassifiesAndPublishes(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 3} }}
	deps := newDeps(t, connector)

	writeZip(t, filepath.Join(deps.Config.StocksZipDir(), "part1.zip"),
		"AAPL_full_1hour_adjsplitdiv.txt",
		"SPY_full_1hour_adjsplitdiv.txt",
	)
	writeZip(t, filepath.Join(deps.Config.ETFsZipDir(), "etfs.zip"),
		"SPY_full_1hour_adjsplitdiv.txt",
	)

	staged := deps.Store.StagingPath("tickers.parquet")
	conn := &stubConn{onExec: func(query string) error {
		if strings.HasPrefix(strings.TrimSpace(query), "COPY") {
			return os.WriteFile(staged, []byte("parquet"), 0o644)
		}
		return nil
	}}

	step := tickersStep(deps)
	require.NoError(t, step.Action(context.Background(), conn))

	// ETF classification wins for the overlapping symbol
	require.Equal(t, [][]any{
		{"AAPL", "stock"},
		{"SPY", "etf"},
	}, conn.inserts)

	require.Len(t, conn.execs, 3)
	require.Contains(t, conn.execs[0], "CREATE TABLE _tickers")
	require.Contains(t, conn.execs[1], "ORDER BY ticker")
	require.Contains(t, conn.execs[1], staged)
	require.Equal(t, "DROP TABLE _tickers", conn.execs[2])

	// published atomically: final present, staging gone
	_, err := os.Stat(deps.Store.Path("tickers.parquet"))
	require.NoError(t, err)
	_, err = os.Stat(staged)
	require.True(t, os.IsNotExist(err))
}

func TestMarketCapActionFiltersAndPublishes(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 10} }}
	deps := newDeps(t, connector)

	staged := deps.Store.StagingPath("market_cap.parquet")
	conn := &stubConn{onExec: func(query string) error {
		return os.WriteFile(staged, []byte("parquet"), 0o644)
	}}

	step := marketCapStep(deps)
	require.NoError(t, step.Action(context.Background(), conn))

	require.Len(t, conn.execs, 1)
	query := conn.execs[0]
	require.Contains(t, query, filepath.Join(deps.Config.MarketCapDir(), "*.csv"))
	require.Contains(t, query, "cap < 20000000000000")
	require.Contains(t, query, "cap > 0")
	require.Contains(t, query, deps.Store.Path("tickers.parquet"))

	_, err := os.Stat(deps.Store.Path("market_cap.parquet"))
	require.NoError(t, err)
}

func TestInsiderTradesActionKeepsOpenMarketCodes(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 5} }}
	deps := newDeps(t, connector)

	staged := deps.Store.StagingPath("insider_trades.parquet")
	conn := &stubConn{onExec: func(query string) error {
		return os.WriteFile(staged, []byte("parquet"), 0o644)
	}}

	step := insiderTradesStep(deps)
	require.NoError(t, step.Action(context.Background(), conn))

	require.Len(t, conn.execs, 1)
	query := conn.execs[0]
	require.Contains(t, query, "tx.coding.code IN ('P', 'S')")
	require.Contains(t, query, "BETWEEN 2000 AND 2026")
	require.Contains(t, query, "LATERAL UNNEST(nonDerivativeTable.transactions)")
	require.Contains(t, query, "*.jsonl.gz")
}

func TestCollectZipsListsStocksBeforeEtfs(t *testing.T) {
	t.Parallel()

	deps := newDeps(t, nil)
	writeZip(t, filepath.Join(deps.Config.StocksZipDir(), "b.zip"), "AAPL_full_1hour_adjsplitdiv.txt")
	writeZip(t, filepath.Join(deps.Config.StocksZipDir(), "a.zip"), "MSFT_full_1hour_adjsplitdiv.txt")
	writeZip(t, filepath.Join(deps.Config.ETFsZipDir(), "etfs.zip"), "SPY_full_1hour_adjsplitdiv.txt")

	zips, err := collectZips(deps)
	require.NoError(t, err)
	require.Len(t, zips, 3)

	require.Equal(t, "a.zip", filepath.Base(zips[0].path))
	require.Equal(t, "stock", zips[0].assetType)
	require.Equal(t, "b.zip", filepath.Base(zips[1].path))
	require.Equal(t, "stock", zips[1].assetType)
	require.Equal(t, "etfs.zip", filepath.Base(zips[2].path))
	require.Equal(t, "etf", zips[2].assetType)
}

func TestHundredDayAggsUsesDailyTree(t *testing.T) {
	t.Parallel()

	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 7} }}
	deps := newDeps(t, connector)

	staged := deps.Store.StagingPath("hundred_day_aggs.parquet")
	conn := &stubConn{onExec: func(query string) error {
		return os.WriteFile(staged, []byte("parquet"), 0o644)
	}}

	step := hundredDayAggsStep(deps)
	require.NoError(t, step.Action(context.Background(), conn))

	require.Len(t, conn.execs, 1)
	query := conn.execs[0]
	require.Contains(t, query, "// 100 AS block_id")
	require.Contains(t, query, filepath.Join(deps.Store.Path("daily_aggs"), "**", "*.parquet"))
	require.Contains(t, query, "hive_partitioning=true")

	_, err := os.Stat(deps.Store.Path("hundred_day_aggs.parquet"))
	require.NoError(t, err)
}

func TestVerificationFailureSurfacesFromAction(t *testing.T) {
	t.Parallel()

	// fresh verification connection sees zero rows
	connector := &stubConnector{make: func() *stubConn { return &stubConn{count: 0} }}
	deps := newDeps(t, connector)

	staged := deps.Store.StagingPath("hundred_day_aggs.parquet")
	conn := &stubConn{onExec: func(query string) error {
		return os.WriteFile(staged, []byte("parquet"), 0o644)
	}}

	step := hundredDayAggsStep(deps)
	err := step.Action(context.Background(), conn)

	var verr *millerrors.VerificationError
	require.ErrorAs(t, err, &verr)
	require.EqualValues(t, 0, verr.Rows)
}
