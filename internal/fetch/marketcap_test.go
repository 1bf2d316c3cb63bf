package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(value string) time.Time {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		panic(err)
	}
	return t
}

func capJSON(rows ...[2]string) string {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{"date": row[0], "marketCap": json.Number(row[1])})
	}
	data, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func newMarketCap(t *testing.T, srv *httptest.Server) *MarketCap {
	t.Helper()
	root := t.TempDir()
	return &MarketCap{
		Client:   testClient(srv, ""),
		Endpoint: srv.URL,
		Token:    "fmp-token",
		DataDir:  filepath.Join(root, "data"),
		TempDir:  filepath.Join(root, "temp"),
		Workers:  2,
	}
}

func TestFetchSymbolSinglePage(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		gotQuery = map[string]string{
			"symbol": q.Get("symbol"),
			"from":   q.Get("from"),
			"to":     q.Get("to"),
			"apikey": q.Get("apikey"),
		}
		mu.Unlock()
		fmt.Fprint(w, capJSON([2]string{"2024-01-02", "2995000000000"}, [2]string{"2024-01-03", "2990000000000"}))
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	rows, err := m.fetchSymbol(context.Background(), "AAPL", day("2024-01-01"), day("2024-03-01"))
	require.NoError(t, err)
	require.Equal(t, []capRow{
		{Date: "2024-01-02", Cap: "2995000000000"},
		{Date: "2024-01-03", Cap: "2990000000000"},
	}, rows)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{
		"symbol": "AAPL",
		"from":   "2024-01-01",
		"to":     "2024-03-01",
		"apikey": "fmp-token",
	}, gotQuery)
}

func TestFetchSymbolPaginatesAndDeduplicates(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var windows [][2]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		windows = append(windows, [2]string{q.Get("from"), q.Get("to")})
		mu.Unlock()

		// Every window reports the same boundary date; it must appear once.
		fmt.Fprint(w, capJSON([2]string{q.Get("from"), "100"}, [2]string{"2024-01-15", "200"}))
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	m.WindowDays = 10

	rows, err := m.fetchSymbol(context.Background(), "MSFT", day("2024-01-01"), day("2024-01-25"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, [][2]string{
		{"2024-01-01", "2024-01-11"},
		{"2024-01-12", "2024-01-22"},
		{"2024-01-23", "2024-01-25"},
	}, windows)

	require.Equal(t, []capRow{
		{Date: "2024-01-01", Cap: "100"},
		{Date: "2024-01-12", Cap: "100"},
		{Date: "2024-01-15", Cap: "200"},
		{Date: "2024-01-23", Cap: "100"},
	}, rows)
}

func TestFetchPageNotFoundIsFinal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	_, err := m.fetchPage(context.Background(), "GONE", "2024-01-01", "2024-02-01")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchPageRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, capJSON([2]string{"2024-01-02", "1000"}))
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	rows, err := m.fetchPage(context.Background(), "AAPL", "2024-01-01", "2024-02-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchPageAPIErrorPayloadIsFinal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"Error Message": "Invalid API KEY"}`)
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	_, err := m.fetchPage(context.Background(), "AAPL", "2024-01-01", "2024-02-01")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid API KEY")
	require.EqualValues(t, 1, calls.Load())
}

func TestSymbolsFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickers.txt")
	require.NoError(t, os.WriteFile(path, []byte("# watchlist\naapl\nMSFT\n\nAAPL\n"), 0o644))

	symbols, err := symbolsFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestResolveSymbolsRetryFailed(t *testing.T) {
	t.Parallel()

	m := &MarketCap{}
	symbols, err := m.resolveSymbols(MarketCapRequest{RetryFailed: true}, map[string]string{
		"ZZZ": "2024-01-01T00:00:00",
		"AAA": "2024-01-01T00:00:00",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"AAA", "ZZZ"}, symbols)
}

func TestSaveCSVWritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	m := &MarketCap{DataDir: t.TempDir()}
	require.NoError(t, m.saveCSV("AAPL", []capRow{
		{Date: "2024-01-02", Cap: "2995000000000"},
		{Date: "2024-01-03", Cap: "2990000000000"},
	}))

	content, err := os.ReadFile(filepath.Join(m.DataDir, "AAPL.csv"))
	require.NoError(t, err)
	require.Equal(t, "date,market_cap\n2024-01-02,2995000000000\n2024-01-03,2990000000000\n", string(content))

	_, err = os.Stat(filepath.Join(m.DataDir, "AAPL.csv.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestRunSkipsDownloadsAndRecordsFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "GOOD":
			fmt.Fprint(w, capJSON([2]string{"2024-01-02", "1000"}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)

	tickersFile := filepath.Join(t.TempDir(), "tickers.txt")
	require.NoError(t, os.WriteFile(tickersFile, []byte("GOOD\nBAD\nDONE\n"), 0o644))

	// DONE already has a CSV and must be skipped
	require.NoError(t, os.MkdirAll(m.DataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.DataDir, "DONE.csv"), []byte("date,market_cap\n"), 0o644))

	stats, err := m.Run(context.Background(), MarketCapRequest{
		TickersFile: tickersFile,
		From:        day("2024-01-01"),
		To:          day("2024-02-01"),
	})
	require.Error(t, err)
	require.Equal(t, MarketCapStats{Downloaded: 1, Skipped: 1, Failed: 1}, stats)

	content, err := os.ReadFile(filepath.Join(m.DataDir, "GOOD.csv"))
	require.NoError(t, err)
	require.Contains(t, string(content), "2024-01-02,1000")

	failedData, err := os.ReadFile(filepath.Join(m.TempDir, "failed.json"))
	require.NoError(t, err)
	failed := map[string]string{}
	require.NoError(t, json.Unmarshal(failedData, &failed))
	require.Contains(t, failed, "BAD")
	require.NotContains(t, failed, "GOOD")
}

func TestRunRetryFailedClearsRecoveredSymbols(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, capJSON([2]string{"2024-01-02", "1000"}))
	}))
	defer srv.Close()

	m := newMarketCap(t, srv)
	require.NoError(t, m.saveFailed(map[string]string{"BAD": "2024-01-01T00:00:00"}))

	stats, err := m.Run(context.Background(), MarketCapRequest{
		RetryFailed: true,
		From:        day("2024-01-01"),
		To:          day("2024-02-01"),
	})
	require.NoError(t, err)
	require.Equal(t, MarketCapStats{Downloaded: 1}, stats)

	failed, err := m.loadFailed()
	require.NoError(t, err)
	require.Empty(t, failed)
}
