package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(Config{Dir: t.TempDir()})
}

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload_WritesBodyToTempFile(t *testing.T) {
	payload := []byte("id,name\n1,Alice\n")
	srv := serveBytes(t, payload)
	f := newTestFetcher(t)

	tmp, err := f.Download(context.Background(), srv.URL+"/exports/Q1 Report.csv")
	require.NoError(t, err)
	defer tmp.Remove()

	assert.Equal(t, int64(len(payload)), tmp.Size)
	assert.True(t, strings.HasPrefix(filepath.Base(tmp.Path), "q1-report-"), tmp.Path)
	assert.Equal(t, ".csv", filepath.Ext(tmp.Path))

	data, err := os.ReadFile(tmp.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownload_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher(t).Download(context.Background(), srv.URL+"/missing.xlsx")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "404")
}

func TestDownload_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/file.xlsx"
	srv.Close()

	_, err := newTestFetcher(t).Download(context.Background(), url)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestDownload_InvalidURL(t *testing.T) {
	f := newTestFetcher(t)

	tests := []struct {
		url  string
		want error
	}{
		{"", ErrMissingURL},
		{"   ", ErrMissingURL},
		{"not a url", ErrInvalidURL},
		{"/relative/path.xlsx", ErrInvalidURL},
		{"ftp://example.com/file.xlsx", ErrInvalidURL},
	}

	for _, tt := range tests {
		_, err := f.Download(context.Background(), tt.url)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr, "url %q", tt.url)
		assert.ErrorIs(t, err, tt.want, "url %q", tt.url)
	}
}

func TestDownload_Decompresses(t *testing.T) {
	payload := []byte("a,b\n1,2\n")

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zstBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstBuf)
	require.NoError(t, err)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	tests := []struct {
		name string
		path string
		body []byte
	}{
		{"gzip", "/data.csv.gz", gzBuf.Bytes()},
		{"zstd", "/data.csv.zst", zstBuf.Bytes()},
		{"xz", "/data.csv.xz", xzBuf.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveBytes(t, tt.body)
			tmp, err := newTestFetcher(t).Download(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)
			defer tmp.Remove()

			data, err := os.ReadFile(tmp.Path)
			require.NoError(t, err)
			assert.Equal(t, payload, data)
			assert.Equal(t, ".csv", filepath.Ext(tmp.Path))
		})
	}
}

func TestWithTempFile_RemovesFileOnError(t *testing.T) {
	srv := serveBytes(t, []byte("x"))
	f := newTestFetcher(t)

	var seen string
	boom := errors.New("boom")
	err := f.WithTempFile(context.Background(), srv.URL+"/a.xlsx", func(tmp *TempFile) error {
		seen = tmp.Path
		_, statErr := os.Stat(tmp.Path)
		require.NoError(t, statErr)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr), "temp file should be removed")
}

func TestTempFile_RemoveTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.xlsx")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	tmp := &TempFile{Path: path}
	assert.NoError(t, tmp.Remove())
	assert.NoError(t, tmp.Remove())
}

func TestTempPattern(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/files/Sales 2024.xlsx", "sales-2024-*.xlsx"},
		{"/files/data.csv.gz", "data-*.csv"},
		{"/download", "download-*.xlsx"},
		{"", "download-*.xlsx"},
		{"/report.xls", "report-*.xlsx"},
	}

	for _, tt := range tests {
		got := tempPattern(tt.path, compressionFromPath(tt.path))
		assert.Equal(t, tt.want, got, "tempPattern(%q)", tt.path)
	}
}
