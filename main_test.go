package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheet-to-json/common"
	"sheet-to-json/convert"
	"sheet-to-json/fetch"
	"sheet-to-json/jobs"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := jobs.NewRegistry(jobs.Options{})
	runner := jobs.NewRunner(context.Background(), registry, 1)
	t.Cleanup(runner.Wait)

	handler := convert.NewHandler(convert.Deps{
		Converter: convert.NewConverter(fetch.New(fetch.Config{Dir: t.TempDir()})),
		Registry:  registry,
		Runner:    runner,
	})
	return newRouter(nil, handler)
}

func TestHealth(t *testing.T) {
	r := setupRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t)

	// Touch a route so the request counter has a series.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/result/unknown", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sheet_http_requests_total")
}

func TestConvertCommand(t *testing.T) {
	csv := []byte("id,name\n1,Alice\n2,Bob\n")
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(csv)
	}))
	defer files.Close()

	cfg := common.DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.FetchTimeout = 5 * time.Second

	var out bytes.Buffer
	cmd := newRootCmd(&cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"convert", files.URL + "/people.csv"})
	require.NoError(t, cmd.Execute())

	var page map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &page))
	assert.Equal(t, "Sheet1", page["sheet"])
	assert.EqualValues(t, 2, page["totalRows"])
	assert.Contains(t, out.String(), `{"id":1,"name":"Alice"}`)
}

func TestConvertCommand_RejectsBadInput(t *testing.T) {
	cfg := common.DefaultConfig()

	cmd := newRootCmd(&cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"convert", "not-a-url"})
	assert.ErrorIs(t, cmd.Execute(), fetch.ErrInvalidURL)

	cmd = newRootCmd(&cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"convert", "https://example.com/a.xlsx", "--offset", "-1"})
	assert.Error(t, cmd.Execute())
}

func TestRootCommand_RejectsInvalidConfig(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.ConvertMode = "sometimes"

	cmd := newRootCmd(&cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"convert", "https://example.com/a.xlsx"})

	var problems common.ValidationErrors
	assert.ErrorAs(t, cmd.Execute(), &problems)
}
