package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/avelline/marketmill/internal/logger"
)

var yearMonthRE = regexp.MustCompile(`\d{4}-\d{2}`)

// InsiderTrades downloads the monthly SEC Form 4 bulk archives into DataDir
// as {year}/{YYYY-MM}.jsonl.gz. A fresh index is fetched each run and kept
// in TempDir/index.json.
type InsiderTrades struct {
	Client   *Client
	IndexURL string
	BaseURL  string
	DataDir  string
	TempDir  string
	Log      *logger.Logger
}

// InsiderRequest bounds one download run. Months are YYYY-MM, inclusive.
type InsiderRequest struct {
	FromMonth string
	ToMonth   string
	Force     bool
}

// InsiderStats summarizes a download run.
type InsiderStats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// indexEntry is one downloadable archive from the provider index. Size is -1
// when the index does not carry one.
type indexEntry struct {
	Name string
	URL  string
	Size int64
}

// Run fetches the index and downloads every in-range month that is missing
// locally or has a stale size. A non-nil error with non-zero stats means the
// run completed but some files failed.
func (f *InsiderTrades) Run(ctx context.Context, req InsiderRequest) (InsiderStats, error) {
	log := f.Log.WithFields(map[string]any{"source": "insider_trades"})

	entries, err := f.fetchIndex(ctx)
	if err != nil {
		return InsiderStats{}, err
	}
	log.WithFields(map[string]any{"files": len(entries)}).Info("fetched index")

	var stats InsiderStats
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ym := yearMonthRE.FindString(entry.Name)
		if ym == "" {
			log.WithFields(map[string]any{"entry": entry.Name}).Warn("skipping unrecognised index entry")
			continue
		}
		if req.FromMonth != "" && ym < req.FromMonth {
			continue
		}
		if req.ToMonth != "" && ym > req.ToMonth {
			continue
		}

		dest := filepath.Join(f.DataDir, ym[:4], ym+".jsonl.gz")
		if !needsDownload(dest, entry.Size, req.Force) {
			stats.Skipped++
			log.WithFields(map[string]any{"month": ym}).Info("already downloaded, skipping")
			continue
		}

		fileLog := log.WithFields(map[string]any{"month": ym, "index": i + 1, "total": len(entries)})
		fileLog.Info("downloading month")
		if err := f.Client.DownloadFile(ctx, entry.URL, dest, 5); err != nil {
			fileLog.Error(err, "download failed")
			stats.Failed++
		} else {
			stats.Downloaded++
		}

		if i < len(entries)-1 {
			if err := pause(ctx, 500*time.Millisecond); err != nil {
				return stats, err
			}
		}
	}

	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d files failed to download", stats.Failed)
	}
	return stats, nil
}

// fetchIndex downloads the provider index, persists the raw document to
// TempDir/index.json and normalizes it to flat entries.
func (f *InsiderTrades) fetchIndex(ctx context.Context) ([]indexEntry, error) {
	raw, err := f.indexDocument(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(f.TempDir, 0o755); err != nil {
		return nil, err
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(f.TempDir, "index.json"), pretty, 0o644); err != nil {
		return nil, err
	}

	return normalizeIndex(raw, f.BaseURL)
}

func (f *InsiderTrades) indexDocument(ctx context.Context) (any, error) {
	resp, err := f.get(ctx, f.IndexURL, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		// Some provider plans only accept the token as a query parameter.
		resp, err = f.get(ctx, f.IndexURL+"?token="+neturl.QueryEscape(f.Client.Token), false)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index request: unexpected status %s", resp.Status)
	}

	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return raw, nil
}

func (f *InsiderTrades) get(ctx context.Context, url string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if auth && f.Client.Token != "" {
		req.Header.Set("Authorization", f.Client.Token)
	}
	return f.Client.httpClient().Do(req)
}

// normalizeIndex flattens the index document. The provider has served both a
// bare list and a {"files": [...]} wrapper, with entries as strings or
// objects under varying key names.
func normalizeIndex(raw any, baseURL string) ([]indexEntry, error) {
	var list []any
	switch doc := raw.(type) {
	case []any:
		list = doc
	case map[string]any:
		files, ok := doc["files"].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected index document shape")
		}
		list = files
	default:
		return nil, fmt.Errorf("unexpected index document shape")
	}

	var entries []indexEntry
	for _, item := range list {
		switch entry := item.(type) {
		case string:
			entries = append(entries, indexEntry{Name: entry, URL: baseURL + "/" + entry, Size: -1})
		case map[string]any:
			name := firstString(entry, "key", "name", "filename")
			url := firstString(entry, "url", "link")
			if url == "" {
				url = baseURL + "/" + name
			}
			size := int64(-1)
			if s, ok := entry["size"].(float64); ok {
				size = int64(s)
			}
			entries = append(entries, indexEntry{Name: name, URL: url, Size: size})
		}
	}
	return entries, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// needsDownload reports whether dest must be (re)fetched: forced, missing,
// or a size mismatch against the index.
func needsDownload(dest string, expectedSize int64, force bool) bool {
	if force {
		return true
	}
	info, err := os.Stat(dest)
	if err != nil {
		return true
	}
	return expectedSize >= 0 && info.Size() != expectedSize
}
