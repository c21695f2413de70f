package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/caedis/pack-sync/internal/logging"
	"golang.org/x/sync/errgroup"
)

type Download struct {
	URL string
	// Path is the destination file. Parent directories are created as needed.
	Path string
	// Name labels the download in logs and errors; defaults to the file name.
	Name string
}

func (d Download) label() string {
	if d.Name != "" {
		return d.Name
	}
	return filepath.Base(d.Path)
}

type Result struct {
	Download Download
	Err      error
}

type Progress struct {
	Completed int64
	Total     int64
}

// NetworkError reports a transport failure or a non-200 response.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

const (
	maxRetries         = 3
	DefaultConcurrency = 6
)

var (
	// HTTPClient is used for every request; tests point it at httptest servers.
	HTTPClient = http.DefaultClient
	retryDelay = 2 * time.Second
)

// Run downloads files concurrently with the given concurrency.
// It calls onProgress after each completed download; calls are serialized.
// Every download is attempted; failures are reported per result.
func Run(ctx context.Context, downloads []Download, concurrency int, onProgress func(Progress)) []Result {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	total := int64(len(downloads))
	var completed atomic.Int64
	progressCh := make(chan Progress, len(downloads))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			if onProgress != nil {
				onProgress(p)
			}
		}
	}()

	results := make([]Result, len(downloads))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, dl := range downloads {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = DownloadToFile(ctx, dl.URL, dl.Path, nil)
			}
			results[i] = Result{Download: dl, Err: err}
			progressCh <- Progress{Completed: completed.Add(1), Total: total}
			return nil
		})
	}
	_ = g.Wait()
	close(progressCh)
	<-done
	return results
}

// FirstError joins the failed results into a single error, or returns nil.
func FirstError(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Download.label(), r.Err))
		}
	}
	return errors.Join(errs...)
}

// DownloadToFile downloads url to destPath with retries. The file is written
// to destPath.tmp and renamed into place only when complete.
// onBytes, when non-nil, is called as the body is copied; total is -1 when the
// server does not report a length.
func DownloadToFile(ctx context.Context, url, destPath string, onBytes func(written, total int64)) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logging.Debugf("retrying download %s attempt=%d/%d\n", url, attempt+1, maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		lastErr = downloadOnce(ctx, url, destPath, onBytes)
		if lastErr == nil || !retryable(ctx, lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Status == 0 || netErr.Status >= 500 || netErr.Status == http.StatusTooManyRequests
	}
	return false
}

// Get issues a GET request and returns the response when the status is 200.
// The caller closes the body.
func Get(ctx context.Context, url string) (*http.Response, error) {
	return GetWithHeader(ctx, url, nil)
}

// GetWithHeader is Get with extra request headers.
func GetWithHeader(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &NetworkError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}

func downloadOnce(ctx context.Context, url, destPath string, onBytes func(written, total int64)) error {
	logging.Debugf("download start url=%s dest=%s\n", url, destPath)

	resp, err := Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", destPath, err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}

	var body io.Reader = resp.Body
	if onBytes != nil {
		body = &countingReader{r: resp.Body, total: resp.ContentLength, onBytes: onBytes}
	}

	_, err = io.Copy(f, body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmpPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{URL: url, Err: err}
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", destPath, closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing %s: %w", destPath, err)
	}
	logging.Debugf("download complete dest=%s\n", destPath)

	return nil
}

type countingReader struct {
	r       io.Reader
	written int64
	total   int64
	onBytes func(written, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.written += int64(n)
		c.onBytes(c.written, c.total)
	}
	return n, err
}
