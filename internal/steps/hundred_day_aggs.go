package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/avelline/marketmill/internal/engine"
)

// hundredDayAggsStep rolls the daily rows into 100-trading-day blocks per
// ticker. Blocks are positional, not calendar-aligned: the first 100 trading
// days form block 0, the next 100 block 1, and the final block may be short.
func hundredDayAggsStep(deps Deps) engine.Step {
	return engine.Step{
		ID:        "hundred_day_aggs_v1",
		Target:    "hundred_day_aggs",
		DependsOn: []string{"daily_aggs"},
		Action: func(ctx context.Context, conn engine.Conn) error {
			return buildHundredDayAggs(ctx, conn, deps)
		},
	}
}

func buildHundredDayAggs(ctx context.Context, conn engine.Conn, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "hundred_day_aggs_v1"})
	store := deps.Store

	dailyGlob := filepath.Join(store.Path("daily_aggs"), "**", "*.parquet")
	staged := store.StagingPath("hundred_day_aggs.parquet")

	blockSQL := fmt.Sprintf(`
COPY (
    WITH numbered AS (
        SELECT *,
            (ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY day) - 1) // 100 AS block_id
        FROM read_parquet(%s, hive_partitioning=true)
    )
    SELECT
        ticker,
        MIN(day) AS block_start,
        MAX(day) AS block_end,
        FIRST(open ORDER BY day) AS open,
        MAX(high) AS high,
        MIN(low) AS low,
        LAST(close ORDER BY day) AS close,
        SUM(volume)::BIGINT AS volume,
        SUM(sum_open) AS sum_open,
        SUM(sum_high) AS sum_high,
        SUM(sum_low) AS sum_low,
        SUM(sum_close) AS sum_close,
        SUM(sum_volume)::BIGINT AS sum_volume,
        SUM(cnt)::USMALLINT AS cnt,
        COUNT(*)::UTINYINT AS day_cnt
    FROM numbered
    GROUP BY ticker, block_id
    ORDER BY ticker, block_start
) TO %s (%s)`, quoteLiteral(dailyGlob), quoteLiteral(staged), parquetSettings)
	if err := conn.Exec(ctx, blockSQL); err != nil {
		return err
	}

	if err := store.Publish("hundred_day_aggs.parquet.tmp", "hundred_day_aggs.parquet"); err != nil {
		return err
	}

	count, err := verifyParquet(ctx, deps.Connector, store.Path("hundred_day_aggs.parquet"), 1)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"rows": count}).Info("wrote hundred_day_aggs.parquet")
	return nil
}
