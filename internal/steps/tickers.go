package steps

import (
	"context"
	"fmt"
	"sort"

	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/source"
)

// tickersStep scans the ZIP archive indexes and publishes tickers.parquet,
// the symbol universe every downstream step filters against.
func tickersStep(deps Deps) engine.Step {
	return engine.Step{
		ID:     "tickers_v1",
		Target: "tickers",
		Action: func(ctx context.Context, conn engine.Conn) error {
			return buildTickers(ctx, conn, deps)
		},
	}
}

func buildTickers(ctx context.Context, conn engine.Conn, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "tickers_v1"})

	stocks, err := source.DiscoverTickers(deps.Config.StocksZipDir(), deps.Log)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"count": len(stocks)}).Info("discovered stock tickers")

	etfs, err := source.DiscoverTickers(deps.Config.ETFsZipDir(), deps.Log)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"count": len(etfs)}).Info("discovered etf tickers")

	rows, overlap := classifyTickers(stocks, etfs)
	log.WithFields(map[string]any{"total": len(rows), "overlap": overlap}).Info("classified tickers")

	if err := conn.Exec(ctx, "CREATE TABLE _tickers (ticker VARCHAR, asset_type VARCHAR)"); err != nil {
		return err
	}
	if err := conn.InsertBatch(ctx, "INSERT INTO _tickers VALUES (?, ?)", rows); err != nil {
		return err
	}

	staged := deps.Store.StagingPath("tickers.parquet")
	copySQL := fmt.Sprintf(
		"COPY (SELECT * FROM _tickers ORDER BY ticker) TO %s (%s)",
		quoteLiteral(staged), parquetSettings,
	)
	if err := conn.Exec(ctx, copySQL); err != nil {
		return err
	}
	if err := conn.Exec(ctx, "DROP TABLE _tickers"); err != nil {
		return err
	}

	if err := deps.Store.Publish("tickers.parquet.tmp", "tickers.parquet"); err != nil {
		return err
	}

	count, err := verifyParquet(ctx, deps.Connector, deps.Store.Path("tickers.parquet"), 1)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"rows": count}).Info("wrote tickers.parquet")
	return nil
}

// classifyTickers merges the two symbol universes into (ticker, asset_type)
// rows sorted by ticker. A symbol present in both is classified as etf.
func classifyTickers(stocks, etfs []string) (rows [][]any, overlap int) {
	etfSet := make(map[string]struct{}, len(etfs))
	for _, ticker := range etfs {
		etfSet[ticker] = struct{}{}
	}
	stockSet := make(map[string]struct{}, len(stocks))
	for _, ticker := range stocks {
		stockSet[ticker] = struct{}{}
	}

	all := make([]string, 0, len(stockSet)+len(etfSet))
	for ticker := range stockSet {
		all = append(all, ticker)
	}
	for ticker := range etfSet {
		if _, dup := stockSet[ticker]; !dup {
			all = append(all, ticker)
		}
	}
	sort.Strings(all)

	rows = make([][]any, 0, len(all))
	for _, ticker := range all {
		assetType := "stock"
		if _, ok := etfSet[ticker]; ok {
			assetType = "etf"
			if _, both := stockSet[ticker]; both {
				overlap++
			}
		}
		rows = append(rows, []any{ticker, assetType})
	}
	return rows, overlap
}
