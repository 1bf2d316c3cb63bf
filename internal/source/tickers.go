// Package source reads the downloaded market data archives: ticker discovery
// and hourly series extraction from the zip files under the data sources tree.
package source

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avelline/marketmill/internal/logger"
)

// TickerSuffix is the member file suffix carried by every hourly series in
// the download archives, e.g. AAPL_full_1hour_adjsplitdiv.txt.
const TickerSuffix = "_full_1hour_adjsplitdiv.txt"

// TickerFromMember extracts the symbol from an archive member name. The
// second return is false when the member is not an hourly series file.
func TickerFromMember(name string) (string, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, TickerSuffix) {
		return "", false
	}
	ticker := strings.TrimSuffix(base, TickerSuffix)
	if ticker == "" {
		return "", false
	}
	return ticker, true
}

// ZipFiles returns the sorted .zip archive paths directly under dir. A
// missing directory yields an empty list.
func ZipFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive directory %s: %w", dir, err)
	}

	var zips []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		zips = append(zips, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(zips)
	return zips, nil
}

// DiscoverTickers scans every archive in dir and returns the sorted,
// de-duplicated symbols found in their member names. Archives that fail to
// open are logged and skipped so one corrupt download cannot block a build.
func DiscoverTickers(dir string, log *logger.Logger) ([]string, error) {
	zips, err := ZipFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	for _, zipPath := range zips {
		reader, err := zip.OpenReader(zipPath)
		if err != nil {
			log.WithFields(map[string]any{"archive": zipPath}).Warn("skipping unreadable archive")
			continue
		}
		for _, member := range reader.File {
			if ticker, ok := TickerFromMember(member.Name); ok {
				seen[ticker] = struct{}{}
			}
		}
		reader.Close()
	}

	tickers := make([]string, 0, len(seen))
	for ticker := range seen {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers, nil
}

// ExtractHourlyFiles copies every hourly series member out of the archive
// into destDir, flattened to base names, and returns the sorted extracted
// paths. destDir is created if needed.
func ExtractHourlyFiles(zipPath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", zipPath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction dir: %w", err)
	}

	var extracted []string
	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if _, ok := TickerFromMember(member.Name); !ok {
			continue
		}
		dest := filepath.Join(destDir, path.Base(member.Name))
		if err := extractMember(member, dest); err != nil {
			return nil, fmt.Errorf("extracting %s from %s: %w", member.Name, zipPath, err)
		}
		extracted = append(extracted, dest)
	}
	sort.Strings(extracted)
	return extracted, nil
}

func extractMember(member *zip.File, dest string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
