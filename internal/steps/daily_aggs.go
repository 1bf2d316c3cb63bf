package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avelline/marketmill/internal/engine"
)

// dailyAggsStep collapses the hourly price tree into daily OHLCV rows plus
// the component sums later aggregations build on, partitioned by year.
func dailyAggsStep(deps Deps) engine.Step {
	return engine.Step{
		ID:        "daily_aggs_v2",
		Target:    "daily_aggs",
		DependsOn: []string{"prices"},
		Action: func(ctx context.Context, conn engine.Conn) error {
			return buildDailyAggs(ctx, conn, deps)
		},
	}
}

func buildDailyAggs(ctx context.Context, conn engine.Conn, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "daily_aggs_v2"})
	store := deps.Store

	const buildingName = "daily_aggs_building"
	if err := store.Remove(buildingName); err != nil {
		return err
	}
	buildingDir := store.Path(buildingName)
	if err := os.MkdirAll(buildingDir, 0o755); err != nil {
		return err
	}

	pricesGlob := filepath.Join(store.Path("prices"), "**", "*.parquet")
	years, err := conn.Ints(ctx, fmt.Sprintf(
		"SELECT DISTINCT CAST(year AS INTEGER) AS yr FROM read_parquet(%s, hive_partitioning=true) ORDER BY yr",
		quoteLiteral(pricesGlob),
	))
	if err != nil {
		return err
	}

	var total int64
	for i, year := range years {
		if err := ctx.Err(); err != nil {
			return err
		}

		yearGlob := filepath.Join(store.Path("prices"), fmt.Sprintf("year=%d", year), "*.parquet")
		outPath := filepath.Join(buildingDir, fmt.Sprintf("year=%d", year), "data.parquet")
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return err
		}

		aggSQL := fmt.Sprintf(`
COPY (
    SELECT
        ticker,
        CAST(ts AS DATE) AS day,
        FIRST(open ORDER BY ts) AS open,
        MAX(high) AS high,
        MIN(low) AS low,
        LAST(close ORDER BY ts) AS close,
        SUM(volume)::BIGINT AS volume,
        SUM(open) AS sum_open,
        SUM(high) AS sum_high,
        SUM(low) AS sum_low,
        SUM(close) AS sum_close,
        SUM(volume)::BIGINT AS sum_volume,
        COUNT(*)::UTINYINT AS cnt
    FROM read_parquet(%s)
    GROUP BY ticker, CAST(ts AS DATE)
    ORDER BY ticker, day
) TO %s (%s)`, quoteLiteral(yearGlob), quoteLiteral(outPath), parquetSettings)
		if err := conn.Exec(ctx, aggSQL); err != nil {
			return err
		}

		rows, err := verifyParquet(ctx, deps.Connector, outPath, 1)
		if err != nil {
			return err
		}
		total += rows
		log.WithFields(map[string]any{
			"year":  year,
			"rows":  rows,
			"index": i + 1,
			"total": len(years),
		}).Info("aggregated year")
	}

	// Earlier pipeline versions published a flat file under this name.
	if err := store.Remove("daily_aggs.parquet"); err != nil {
		return err
	}
	if err := store.Publish(buildingName, "daily_aggs"); err != nil {
		return err
	}

	log.WithFields(map[string]any{"rows": total}).Info("wrote daily_aggs tree")
	return nil
}
