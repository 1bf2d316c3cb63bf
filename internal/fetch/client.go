// Package fetch downloads the raw data sources the build steps read: daily
// market capitalization series from the FMP API and SEC Form 4 bulk archives
// from sec-api.io.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avelline/marketmill/internal/logger"
)

var errRateLimited = errors.New("rate limited")

// Client wraps the HTTP transport shared by the downloaders: token
// injection, bounded retries with exponential backoff and streamed downloads
// staged through .tmp files.
type Client struct {
	HTTP  *http.Client
	Token string
	Log   *logger.Logger
	// Backoff is the retry wait unit. Zero means one second; tests shrink it.
	Backoff time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) backoffUnit() time.Duration {
	if c.Backoff > 0 {
		return c.Backoff
	}
	return time.Second
}

// sleepBackoff waits out the attempt-th retry backoff: 2, 4, 8... units.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	return pause(ctx, time.Duration(1<<attempt)*2*c.backoffUnit())
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DownloadFile streams url into dest through a .tmp file, retrying rate
// limits and transport failures with exponential backoff. The temp file is
// removed on final failure so interrupted downloads never masquerade as
// complete ones.
func (c *Client) DownloadFile(ctx context.Context, url, dest string, maxRetries int) error {
	tmp := dest + ".tmp"
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = c.downloadOnce(ctx, url, tmp, dest)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == maxRetries-1 {
			break
		}
		c.Log.WithFields(map[string]any{"url": url, "attempt": attempt + 1}).Warn("download failed, backing off")
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			break
		}
	}

	os.Remove(tmp)
	return fmt.Errorf("downloading %s: %w", url, lastErr)
}

func (c *Client) downloadOnce(ctx context.Context, url, tmp, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
