package fetch

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avelline/marketmill/internal/logger"
	"github.com/avelline/marketmill/internal/source"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

// MarketCap downloads per-symbol daily market capitalization history into
// DataDir as {SYMBOL}.csv files. Symbols that fail are recorded in
// TempDir/failed.json so a later run can retry just those.
type MarketCap struct {
	Client       *Client
	Endpoint     string
	Token        string
	DataDir      string
	TempDir      string
	StocksZipDir string
	// WindowDays is the calendar-day span of one request; longer ranges are
	// fetched in windows and merged.
	WindowDays int
	Workers    int
	Log        *logger.Logger
}

// MarketCapRequest bounds one download run.
type MarketCapRequest struct {
	// TickersFile overrides symbol discovery with a one-per-line file.
	TickersFile string
	From, To    time.Time
	Force       bool
	RetryFailed bool
}

// MarketCapStats summarizes a download run.
type MarketCapStats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// capRow is one (date, market cap) observation. Cap stays textual; it is
// written straight back out to CSV.
type capRow struct {
	Date string
	Cap  string
}

// Run resolves the symbol list, downloads every symbol not already present
// and persists the failed set. A non-nil error with non-zero stats means the
// run completed but some symbols failed.
func (m *MarketCap) Run(ctx context.Context, req MarketCapRequest) (MarketCapStats, error) {
	log := m.Log.WithFields(map[string]any{"source": "market_cap"})

	failed, err := m.loadFailed()
	if err != nil {
		return MarketCapStats{}, err
	}

	symbols, err := m.resolveSymbols(req, failed)
	if err != nil {
		return MarketCapStats{}, err
	}
	if req.RetryFailed && len(symbols) == 0 {
		log.Info("no failed symbols to retry")
		return MarketCapStats{}, nil
	}

	var stats MarketCapStats
	var toDownload []string
	for _, symbol := range symbols {
		if !req.Force && !req.RetryFailed {
			if _, err := os.Stat(filepath.Join(m.DataDir, symbol+".csv")); err == nil {
				stats.Skipped++
				continue
			}
		}
		toDownload = append(toDownload, symbol)
	}
	log.WithFields(map[string]any{
		"symbols": len(toDownload),
		"skipped": stats.Skipped,
		"workers": m.workers(),
		"from":    req.From.Format(dateLayout),
		"to":      req.To.Format(dateLayout),
	}).Info("downloading market capitalization")

	type result struct {
		symbol string
		rows   []capRow
		err    error
	}

	jobs := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < m.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				rows, err := m.fetchSymbol(ctx, symbol, req.From, req.To)
				results <- result{symbol: symbol, rows: rows, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, symbol := range toDownload {
			select {
			case jobs <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		resLog := log.WithFields(map[string]any{
			"symbol": res.symbol,
			"index":  completed,
			"total":  len(toDownload),
		})
		switch {
		case res.err != nil:
			resLog.Error(res.err, "symbol failed")
			failed[res.symbol] = time.Now().Format(timestampLayout)
			stats.Failed++
		case len(res.rows) == 0:
			resLog.Warn("no data for symbol")
			failed[res.symbol] = time.Now().Format(timestampLayout)
			stats.Failed++
		default:
			if err := m.saveCSV(res.symbol, res.rows); err != nil {
				resLog.Error(err, "saving csv failed")
				failed[res.symbol] = time.Now().Format(timestampLayout)
				stats.Failed++
			} else {
				resLog.WithFields(map[string]any{"days": len(res.rows)}).Info("saved symbol")
				delete(failed, res.symbol)
				stats.Downloaded++
			}
		}

		// Persist progress periodically so interruptions don't lose much.
		if completed%50 == 0 {
			if err := m.saveFailed(failed); err != nil {
				log.Error(err, "persisting failed set")
			}
		}
	}

	if err := m.saveFailed(failed); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d symbols failed, re-run with --retry-failed", stats.Failed)
	}
	return stats, nil
}

func (m *MarketCap) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return 20
}

func (m *MarketCap) windowDays() int {
	if m.WindowDays > 0 {
		return m.WindowDays
	}
	return 5000
}

// resolveSymbols picks the symbol universe for this run: the failed set, an
// explicit file, or discovery from the stock archives.
func (m *MarketCap) resolveSymbols(req MarketCapRequest, failed map[string]string) ([]string, error) {
	switch {
	case req.RetryFailed:
		symbols := make([]string, 0, len(failed))
		for symbol := range failed {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		return symbols, nil

	case req.TickersFile != "":
		return symbolsFromFile(req.TickersFile)

	default:
		symbols, err := source.DiscoverTickers(m.StocksZipDir, m.Log)
		if err != nil {
			return nil, err
		}
		if len(symbols) == 0 {
			return nil, fmt.Errorf("no tickers found: populate %s or pass a tickers file", m.StocksZipDir)
		}
		return symbols, nil
	}
}

func symbolsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		symbol := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if symbol == "" || strings.HasPrefix(symbol, "#") {
			continue
		}
		seen[symbol] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// fetchSymbol fetches the full history for one symbol, paginating in
// calendar-day windows when the range exceeds the API's record limit.
// Overlapping window edges are de-duplicated by date.
func (m *MarketCap) fetchSymbol(ctx context.Context, symbol string, from, to time.Time) ([]capRow, error) {
	window := m.windowDays()
	if int(to.Sub(from).Hours()/24) <= window {
		return m.fetchPage(ctx, symbol, from.Format(dateLayout), to.Format(dateLayout))
	}

	seen := map[string]string{}
	windowStart := from
	for !windowStart.After(to) {
		windowEnd := windowStart.AddDate(0, 0, window)
		if windowEnd.After(to) {
			windowEnd = to
		}
		rows, err := m.fetchPage(ctx, symbol, windowStart.Format(dateLayout), windowEnd.Format(dateLayout))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			seen[row.Date] = row.Cap
		}
		windowStart = windowEnd.AddDate(0, 0, 1)
	}

	dates := make([]string, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	rows := make([]capRow, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, capRow{Date: date, Cap: seen[date]})
	}
	return rows, nil
}

// fetchPage fetches one window for one symbol, retrying rate limits and
// transient failures. A 404 or an API error payload is final.
func (m *MarketCap) fetchPage(ctx context.Context, symbol, from, to string) ([]capRow, error) {
	pageURL := fmt.Sprintf("%s?symbol=%s&from=%s&to=%s&limit=5000&apikey=%s",
		m.Endpoint, neturl.QueryEscape(symbol), from, to, neturl.QueryEscape(m.Token))

	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		rows, retryable, err := m.fetchPageOnce(ctx, pageURL)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !retryable || attempt == attempts-1 {
			break
		}
		if serr := m.Client.sleepBackoff(ctx, attempt); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

func (m *MarketCap) fetchPageOnce(ctx context.Context, pageURL string) (rows []capRow, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := m.Client.httpClient().Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("symbol not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, errRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, true, fmt.Errorf("unexpected status %s", resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}

	switch doc := payload.(type) {
	case map[string]any:
		for _, key := range []string{"Error Message", "error", "message"} {
			if msg, ok := doc[key].(string); ok && msg != "" {
				return nil, false, fmt.Errorf("api error: %s", msg)
			}
		}
		return nil, false, fmt.Errorf("unexpected response shape")
	case []any:
		rows = make([]capRow, 0, len(doc))
		for _, item := range doc {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			date, _ := entry["date"].(string)
			capNum, ok := entry["marketCap"].(json.Number)
			if date == "" || !ok {
				continue
			}
			rows = append(rows, capRow{Date: date, Cap: capNum.String()})
		}
		return rows, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected response shape")
	}
}

// saveCSV writes data/{SYMBOL}.csv atomically via a .tmp file. The header
// matches what the build step's CSV reader expects.
func (m *MarketCap) saveCSV(symbol string, rows []capRow) error {
	if err := os.MkdirAll(m.DataDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(m.DataDir, symbol+".csv")
	tmp := dest + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"date", "market_cap"})
	for _, row := range rows {
		w.Write([]string{row.Date, row.Cap})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func (m *MarketCap) failedPath() string {
	return filepath.Join(m.TempDir, "failed.json")
}

func (m *MarketCap) loadFailed() (map[string]string, error) {
	data, err := os.ReadFile(m.failedPath())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	failed := map[string]string{}
	if err := json.Unmarshal(data, &failed); err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.failedPath(), err)
	}
	return failed, nil
}

func (m *MarketCap) saveFailed(failed map[string]string) error {
	if err := os.MkdirAll(m.TempDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.failedPath(), data, 0o644)
}
