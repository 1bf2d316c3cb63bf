package summary

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
)

func (r *Runner) renderTickers(ctx context.Context, s Session) error {
	path := r.Store.Path("tickers.parquet")
	if !exists(path) {
		r.missing("TICKERS", path)
		return nil
	}
	r.section("TICKERS")
	expr := "read_parquet(" + sqlQuote(path) + ")"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	total, err := s.Count(ctx, "SELECT COUNT(*) FROM "+expr)
	if err != nil {
		return err
	}
	_, breakdown, err := s.Query(ctx,
		"SELECT asset_type, COUNT(*) FROM "+expr+" GROUP BY asset_type ORDER BY asset_type")
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(breakdown))
	for _, row := range breakdown {
		if len(row) >= 2 {
			parts = append(parts, fmt.Sprintf("%s %s", commas(row[1]), row[0]))
		}
	}
	fmt.Fprintf(r.Out, "  Rows: %s  (%s)\n", commasInt(total), strings.Join(parts, ", "))
	fmt.Fprintf(r.Out, "  File: %s\n", fileSize(path))

	return r.sample(ctx, s, expr, 10, 0)
}

func (r *Runner) renderPrices(ctx context.Context, s Session) error {
	tree := r.Store.Path("prices")
	if !exists(tree) {
		r.missing("PRICES", tree)
		return nil
	}
	r.section("PRICES")
	expr := "read_parquet(" + sqlQuote(filepath.Join(tree, "**", "*.parquet")) + ", hive_partitioning=true)"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	row, err := r.statsRow(ctx, s,
		"SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(year), MAX(year) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Rows: %s | Tickers: %s | Years: %s-%s\n",
		commas(row[0]), commas(row[1]), row[2], row[3])
	fmt.Fprintf(r.Out, "  Total size: %s\n", fileSize(tree))

	if err := r.yearTable(ctx, s, expr, tree); err != nil {
		return err
	}
	return r.sample(ctx, s, expr, 5, 0)
}

func (r *Runner) renderDailyAggs(ctx context.Context, s Session) error {
	tree := r.Store.Path("daily_aggs")
	if !exists(tree) {
		r.missing("DAILY AGGREGATES", tree)
		return nil
	}
	r.section("DAILY AGGREGATES")
	expr := "read_parquet(" + sqlQuote(filepath.Join(tree, "**", "*.parquet")) + ", hive_partitioning=true)"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	row, err := r.statsRow(ctx, s,
		"SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(day), MAX(day) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Rows: %s | Tickers: %s | Days: %s to %s\n",
		commas(row[0]), commas(row[1]), row[2], row[3])
	fmt.Fprintf(r.Out, "  Total size: %s\n", fileSize(tree))

	bars, err := r.statsRow(ctx, s,
		"SELECT MIN(cnt), MEDIAN(cnt)::INT, MAX(cnt), ROUND(AVG(cnt), 1) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Bars/day: min=%s median=%s max=%s avg=%s\n",
		bars[0], bars[1], bars[2], bars[3])

	days, err := r.statsRow(ctx, s,
		"SELECT MIN(n), MEDIAN(n)::INT, MAX(n) FROM (SELECT ticker, COUNT(*) AS n FROM "+expr+" GROUP BY ticker)", 3)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Days/ticker: min=%s median=%s max=%s\n", days[0], days[1], days[2])

	if err := r.yearTable(ctx, s, expr, tree); err != nil {
		return err
	}
	return r.sample(ctx, s, expr, 5, 0)
}

func (r *Runner) renderHundredDayAggs(ctx context.Context, s Session) error {
	path := r.Store.Path("hundred_day_aggs.parquet")
	if !exists(path) {
		r.missing("100-DAY AGGREGATES", path)
		return nil
	}
	r.section("100-DAY AGGREGATES")
	expr := "read_parquet(" + sqlQuote(path) + ")"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	row, err := r.statsRow(ctx, s,
		"SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(block_start), MAX(block_end) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Blocks: %s | Tickers: %s | Range: %s to %s\n",
		commas(row[0]), commas(row[1]), row[2], row[3])
	fmt.Fprintf(r.Out, "  File: %s\n", fileSize(path))

	days, err := r.statsRow(ctx, s,
		"SELECT MIN(day_cnt), MEDIAN(day_cnt)::INT, MAX(day_cnt) FROM "+expr, 3)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Days/block: min=%s median=%s max=%s (expect <= 100)\n",
		days[0], days[1], days[2])

	return r.sample(ctx, s, expr, 5, 0)
}

func (r *Runner) renderMarketCap(ctx context.Context, s Session) error {
	path := r.Store.Path("market_cap.parquet")
	if !exists(path) {
		r.missing("MARKET CAP", path)
		return nil
	}
	r.section("MARKET CAP")
	expr := "read_parquet(" + sqlQuote(path) + ")"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	row, err := r.statsRow(ctx, s,
		"SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(day), MAX(day) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Rows: %s | Tickers: %s | Days: %s to %s\n",
		commas(row[0]), commas(row[1]), row[2], row[3])
	fmt.Fprintf(r.Out, "  File: %s\n", fileSize(path))

	caps, err := r.statsRow(ctx, s,
		"SELECT MIN(cap), MEDIAN(cap)::BIGINT, MAX(cap) FROM "+expr, 3)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Cap: min=$%s median=$%s max=$%s\n",
		commas(caps[0]), commas(caps[1]), commas(caps[2]))

	_, top, err := s.Query(ctx, `
WITH latest AS (
    SELECT ticker, day, cap,
           ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY day DESC) AS rn
    FROM `+expr+`
)
SELECT ticker, day, cap
FROM latest
WHERE rn = 1
ORDER BY cap DESC
LIMIT 10`)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "\n  Top 10 by latest market cap:\n")
	for _, row := range top {
		if len(row) >= 3 {
			fmt.Fprintf(r.Out, "    %-8s %s  $%s\n", row[0], row[1], commas(row[2]))
		}
	}
	return nil
}

func (r *Runner) renderInsiderTrades(ctx context.Context, s Session) error {
	path := r.Store.Path("insider_trades.parquet")
	if !exists(path) {
		r.missing("INSIDER TRADES", path)
		return nil
	}
	r.section("INSIDER TRADES")
	expr := "read_parquet(" + sqlQuote(path) + ")"
	if err := r.schema(ctx, s, expr); err != nil {
		return err
	}

	row, err := r.statsRow(ctx, s,
		"SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(trade_date), MAX(trade_date) FROM "+expr, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "  Rows: %s | Tickers: %s | Dates: %s to %s\n",
		commas(row[0]), commas(row[1]), row[2], row[3])
	fmt.Fprintf(r.Out, "  File: %s\n", fileSize(path))

	for _, breakdown := range []struct {
		label  string
		column string
	}{
		{"Tx codes", "tx_code"},
		{"Acquired/disposed", "acquired_disposed"},
		{"Ownership", "ownership_type"},
	} {
		_, rows, err := s.Query(ctx, fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM %s GROUP BY %s ORDER BY %s",
			breakdown.column, expr, breakdown.column, breakdown.column))
		if err != nil {
			return err
		}
		parts := make([]string, 0, len(rows))
		for _, row := range rows {
			if len(row) >= 2 {
				parts = append(parts, fmt.Sprintf("%s=%s", row[0], commas(row[1])))
			}
		}
		fmt.Fprintf(r.Out, "  %s: %s\n", breakdown.label, strings.Join(parts, " "))
	}

	_, top, err := s.Query(ctx,
		"SELECT ticker, COUNT(*) AS n FROM "+expr+" GROUP BY ticker ORDER BY n DESC LIMIT 10")
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "\n  Top 10 most-traded tickers:\n")
	for _, row := range top {
		if len(row) >= 2 {
			fmt.Fprintf(r.Out, "    %-8s %s\n", row[0], commas(row[1]))
		}
	}

	return r.sample(ctx, s, expr, 5, 30)
}

func (r *Runner) missing(title, path string) {
	r.section(title + " — not found")
	fmt.Fprintf(r.Out, "  Expected at: %s\n", path)
}

// statsRow runs a single-row aggregate query and guarantees want columns.
func (r *Runner) statsRow(ctx context.Context, s Session, query string, want int) ([]string, error) {
	_, rows, err := s.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) < want {
		return nil, fmt.Errorf("expected a %d-column stats row", want)
	}
	return rows[0], nil
}

// yearTable prints per-year row counts for a hive-partitioned tree.
func (r *Runner) yearTable(ctx context.Context, s Session, expr, tree string) error {
	_, rows, err := s.Query(ctx,
		"SELECT year, COUNT(*), COUNT(DISTINCT ticker) FROM "+expr+" GROUP BY year ORDER BY year")
	if err != nil {
		return err
	}

	fmt.Fprintln(r.Out)
	tw := tabwriter.NewWriter(r.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  Year\tRows\tTickers\tSize\tRows/Ticker")
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		year, total, tickers := row[0], parseInt(row[1]), parseInt(row[2])
		perTicker := int64(0)
		if tickers > 0 {
			perTicker = total / tickers
		}
		size := fileSize(filepath.Join(tree, "year="+year))
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			year, commasInt(total), commasInt(tickers), size, commasInt(perTicker))
	}
	return tw.Flush()
}

// sample prints n random rows. clipAt > 0 shortens long cells, which keeps
// free-text columns from wrapping the terminal.
func (r *Runner) sample(ctx context.Context, s Session, expr string, n, clipAt int) error {
	_, rows, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s USING SAMPLE %d", expr, n))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "\n  Sample (%d random rows):\n", n)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = clip(cell, clipAt)
		}
		fmt.Fprintf(r.Out, "    %s\n", strings.Join(cells, "  "))
	}
	return nil
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
