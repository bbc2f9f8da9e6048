// Package fetch downloads remote spreadsheet files into scoped temporary files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	bytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheet_fetch_bytes_total",
		Help: "Total bytes written to temporary files by the fetcher",
	})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheet_fetch_failures_total",
		Help: "Failed downloads by class",
	}, []string{"class"}) // "url", "network", "status", "stream"

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sheet_fetch_duration_seconds",
		Help:    "Duration of remote file downloads",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// defaultExt is used when the URL path carries no usable extension.
const defaultExt = ".xlsx"

// TempFile is a downloaded file on local disk.
type TempFile struct {
	Path string
	Size int64
}

// Remove deletes the file. It is safe to call more than once.
func (t *TempFile) Remove() error {
	if t == nil || t.Path == "" {
		return nil
	}
	if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Config holds fetcher settings.
type Config struct {
	// Dir is where temporary files are created (default: os.TempDir()).
	Dir string
	// Timeout bounds a whole download; zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the client used for downloads.
	HTTPClient *http.Client
}

// Fetcher downloads files over HTTP.
type Fetcher struct {
	client *http.Client
	dir    string
	logger zerolog.Logger
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		client: client,
		dir:    cfg.Dir,
		logger: log.With().Str("component", "fetch").Logger(),
	}
}

// Download streams rawURL into a new temporary file.
// The caller owns the returned file and must Remove it.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (*TempFile, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		fetchFailures.WithLabelValues("url").Inc()
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fetchFailures.WithLabelValues("url").Inc()
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		fetchFailures.WithLabelValues("network").Inc()
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fetchFailures.WithLabelValues("status").Inc()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	compression := compressionFromPath(u.Path)
	body, closeBody, err := compression.reader(resp.Body)
	if err != nil {
		fetchFailures.WithLabelValues("stream").Inc()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	defer closeBody()

	out, err := os.CreateTemp(f.dir, tempPattern(u.Path, compression))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmp := &TempFile{Path: out.Name()}

	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = tmp.Remove()
		fetchFailures.WithLabelValues("stream").Inc()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: copyErr}
	}

	tmp.Size = n
	bytesDownloaded.Add(float64(n))
	fetchDuration.Observe(time.Since(start).Seconds())

	f.logger.Debug().
		Str("url", u.Redacted()).
		Str("path", tmp.Path).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("download complete")

	return tmp, nil
}

// WithTempFile downloads rawURL, calls fn with the file and removes the file
// once fn returns, whatever its outcome.
func (f *Fetcher) WithTempFile(ctx context.Context, rawURL string, fn func(*TempFile) error) error {
	tmp, err := f.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := tmp.Remove(); err != nil {
			f.logger.Warn().Err(err).Str("path", tmp.Path).Msg("failed to remove temp file")
		}
	}()
	return fn(tmp)
}

// ValidateURL checks that rawURL is an absolute http or https URL.
func ValidateURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return u, nil
}

// tempPattern names the temp file after the URL basename, keeping the
// spreadsheet extension so the decoder can tell CSV from xlsx.
func tempPattern(urlPath string, c compression) string {
	base := strings.TrimSuffix(path.Base(urlPath), c.ext())
	ext := strings.ToLower(path.Ext(base))
	if ext != ".csv" && ext != ".xlsx" && ext != ".xlsm" {
		ext = defaultExt
	}
	name := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if name == "" {
		name = "download"
	}
	return name + "-*" + ext
}
