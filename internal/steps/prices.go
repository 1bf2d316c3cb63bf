package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/logger"
	"github.com/avelline/marketmill/internal/source"
)

// pricesStep builds the hive-partitioned hourly price tree in two passes:
// each archive is extracted and staged into per-year fragments, then the
// fragments of each year are merged, de-duplicated and sorted into
// prices/year=Y/data.parquet.
func pricesStep(deps Deps) engine.Step {
	return engine.Step{
		ID:        "prices_v2",
		Target:    "prices",
		DependsOn: []string{"tickers"},
		// The step connection goes unused: both passes open short-lived
		// connections of their own, one per archive and one per year.
		Action: func(ctx context.Context, _ engine.Conn) error {
			return buildPrices(ctx, deps)
		},
	}
}

// zipSource pairs an archive path with the asset type of its series.
type zipSource struct {
	path      string
	assetType string
}

func buildPrices(ctx context.Context, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "prices_v2"})
	store := deps.Store

	const (
		buildingName  = "prices_building"
		fragmentsName = "_prices_temp_fragments"
	)

	// Drop leftovers from an interrupted run before staging anew.
	for _, name := range []string{buildingName, fragmentsName} {
		if err := store.Remove(name); err != nil {
			return err
		}
	}
	fragmentsDir := store.Path(fragmentsName)
	buildingDir := store.Path(buildingName)
	if err := os.MkdirAll(fragmentsDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(buildingDir, 0o755); err != nil {
		return err
	}

	zips, err := collectZips(deps)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"archives": len(zips)}).Info("pass 1: staging archives into per-year fragments")

	for i, z := range zips {
		if err := ctx.Err(); err != nil {
			return err
		}
		zipLog := log.WithFields(map[string]any{
			"archive": filepath.Base(z.path),
			"index":   i + 1,
			"total":   len(zips),
		})
		zipLog.Info("processing archive")
		if err := stageArchive(ctx, deps, z, fragmentsDir, zipLog); err != nil {
			return err
		}
	}

	log.Info("pass 2: merging fragments per year")
	yearDirs, err := filepath.Glob(filepath.Join(fragmentsDir, "year=*"))
	if err != nil {
		return err
	}
	for i, yearDir := range yearDirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		year := strings.TrimPrefix(filepath.Base(yearDir), "year=")
		outPath := filepath.Join(buildingDir, "year="+year, "data.parquet")
		if err := mergeYear(ctx, deps, yearDir, outPath); err != nil {
			return err
		}
		rows, err := verifyParquet(ctx, deps.Connector, outPath, 1)
		if err != nil {
			return err
		}
		log.WithFields(map[string]any{
			"year":  year,
			"rows":  rows,
			"index": i + 1,
			"total": len(yearDirs),
		}).Info("merged year")
	}

	if err := store.Publish(buildingName, "prices"); err != nil {
		return err
	}
	if err := store.Remove(fragmentsName); err != nil {
		return err
	}

	total, err := verifyParquet(ctx, deps.Connector, filepath.Join(store.Path("prices"), "**", "*.parquet"), 1)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"rows": total}).Info("wrote prices tree")
	return nil
}

// collectZips lists the stock archives followed by the etf archives.
func collectZips(deps Deps) ([]zipSource, error) {
	var zips []zipSource
	for _, dir := range []struct {
		path      string
		assetType string
	}{
		{deps.Config.StocksZipDir(), "stock"},
		{deps.Config.ETFsZipDir(), "etf"},
	} {
		paths, err := source.ZipFiles(dir.path)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			zips = append(zips, zipSource{path: p, assetType: dir.assetType})
		}
	}
	return zips, nil
}

// stageArchive extracts one archive into a scratch directory and writes its
// rows as per-year fragments. Query failures are logged and skipped so one
// malformed archive cannot sink the whole pass; extraction failures abort.
func stageArchive(ctx context.Context, deps Deps, z zipSource, fragmentsDir string, log *logger.Logger) error {
	scratch, err := os.MkdirTemp("", "marketmill-prices-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	files, err := source.ExtractHourlyFiles(z.path, scratch)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Warn("no hourly series in archive")
		return nil
	}

	conn, err := deps.Connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeFragments(ctx, conn, deps, z, scratch, fragmentsDir); err != nil {
		log.Error(err, "archive failed, skipping")
	}
	return nil
}

func writeFragments(ctx context.Context, conn engine.Conn, deps Deps, z zipSource, scratch, fragmentsDir string) error {
	suffixSQL := strings.ReplaceAll(source.TickerSuffix, "'", "''")
	glob := filepath.Join(scratch, "*.txt")

	createSQL := fmt.Sprintf(`
CREATE TABLE _raw AS
SELECT
    replace(string_split(filename, '/')[-1], '%s', '') AS ticker,
    column0 AS ts,
    column1 AS open,
    column2 AS high,
    column3 AS low,
    column4 AS close,
    column5 AS volume,
    '%s' AS _asset_type
FROM read_csv(
    %s,
    header=false,
    columns={
        'column0': 'TIMESTAMP',
        'column1': 'FLOAT',
        'column2': 'FLOAT',
        'column3': 'FLOAT',
        'column4': 'FLOAT',
        'column5': 'INTEGER'
    },
    filename=true,
    ignore_errors=true
)
WHERE replace(string_split(filename, '/')[-1], '%s', '') != string_split(filename, '/')[-1]
  AND EXTRACT(HOUR FROM column0) BETWEEN %d AND %d`,
		suffixSQL, z.assetType, quoteLiteral(glob), suffixSQL,
		deps.Config.MarketHours.OpenHour, deps.Config.MarketHours.CloseHour,
	)
	if err := conn.Exec(ctx, createSQL); err != nil {
		return err
	}

	count, err := conn.Count(ctx, "SELECT COUNT(*) FROM _raw")
	if err != nil {
		return err
	}
	if count == 0 {
		deps.Log.WithFields(map[string]any{"archive": filepath.Base(z.path)}).Warn("no regular-hours rows in archive")
		return nil
	}

	years, err := conn.Ints(ctx, "SELECT DISTINCT EXTRACT(YEAR FROM ts)::INTEGER AS yr FROM _raw ORDER BY yr")
	if err != nil {
		return err
	}

	fragID := z.assetType + "_" + strings.TrimSuffix(filepath.Base(z.path), ".zip")
	for _, year := range years {
		fragDir := filepath.Join(fragmentsDir, fmt.Sprintf("year=%d", year))
		if err := os.MkdirAll(fragDir, 0o755); err != nil {
			return err
		}
		fragPath := filepath.Join(fragDir, fragID+".parquet")
		copySQL := fmt.Sprintf(`
COPY (
    SELECT ticker, ts, open, high, low, close, volume, _asset_type
    FROM _raw
    WHERE EXTRACT(YEAR FROM ts) = %d
    ORDER BY ticker, ts
) TO %s (%s)`, year, quoteLiteral(fragPath), parquetSettings)
		if err := conn.Exec(ctx, copySQL); err != nil {
			return err
		}
	}

	return conn.Exec(ctx, "DROP TABLE _raw")
}

// mergeYear merges every fragment of one year on a fresh connection,
// de-duplicating overlapping (ticker, ts) pairs with etf series winning.
func mergeYear(ctx context.Context, deps Deps, yearDir, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	conn, err := deps.Connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	mergeSQL := fmt.Sprintf(`
COPY (
    SELECT ticker, ts, open, high, low, close, volume
    FROM (
        SELECT *,
            ROW_NUMBER() OVER (
                PARTITION BY ticker, ts
                ORDER BY CASE WHEN _asset_type = 'etf' THEN 0 ELSE 1 END
            ) AS _rn
        FROM read_parquet(%s)
    )
    WHERE _rn = 1
    ORDER BY ticker, ts
) TO %s (%s)`,
		quoteLiteral(filepath.Join(yearDir, "*.parquet")), quoteLiteral(outPath), parquetSettings)
	return conn.Exec(ctx, mergeSQL)
}
