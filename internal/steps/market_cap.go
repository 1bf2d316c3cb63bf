package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/avelline/marketmill/internal/engine"
)

// maxPlausibleCap filters obviously corrupt market-cap rows; no listed
// company is worth twenty trillion dollars.
const maxPlausibleCap = 20_000_000_000_000

// marketCapStep reads the downloaded per-ticker market-cap CSVs into a
// single parquet file, keeping only symbols in the ticker universe.
func marketCapStep(deps Deps) engine.Step {
	return engine.Step{
		ID:        "market_cap_v2",
		Target:    "market_cap",
		DependsOn: []string{"tickers"},
		Action: func(ctx context.Context, conn engine.Conn) error {
			return buildMarketCap(ctx, conn, deps)
		},
	}
}

func buildMarketCap(ctx context.Context, conn engine.Conn, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "market_cap_v2"})
	store := deps.Store

	csvGlob := filepath.Join(deps.Config.MarketCapDir(), "*.csv")
	staged := store.StagingPath("market_cap.parquet")

	capSQL := fmt.Sprintf(`
COPY (
    SELECT
        replace(string_split(filename, '/')[-1], '.csv', '') AS ticker,
        CAST(date AS DATE) AS day,
        CAST(market_cap AS BIGINT) AS cap
    FROM read_csv(
        %s,
        header=true,
        columns={'date': 'DATE', 'market_cap': 'BIGINT'},
        filename=true
    )
    WHERE ticker != ''
      AND ticker IN (SELECT ticker FROM read_parquet(%s))
      AND cap > 0
      AND cap < %d
    ORDER BY ticker, day
) TO %s (%s)`,
		quoteLiteral(csvGlob), quoteLiteral(store.Path("tickers.parquet")),
		maxPlausibleCap, quoteLiteral(staged), parquetSettings)
	if err := conn.Exec(ctx, capSQL); err != nil {
		return err
	}

	if err := store.Publish("market_cap.parquet.tmp", "market_cap.parquet"); err != nil {
		return err
	}

	count, err := verifyParquet(ctx, deps.Connector, store.Path("market_cap.parquet"), 1)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"rows": count}).Info("wrote market_cap.parquet")
	return nil
}
