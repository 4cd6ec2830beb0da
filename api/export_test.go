package api

import (
	"batch-exporter/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	got service.ExportParams
	res service.ExportResult
	err error
}

func (d *recordingDriver) Execute(ctx context.Context, params service.ExportParams) (service.ExportResult, error) {
	d.got = params
	return d.res, d.err
}

func newTestRouter(driver service.ExportDriver, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(driver, cfg)
}

func postExport(r http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/export", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestExportHandler_Success(t *testing.T) {
	driver := &recordingDriver{res: service.ExportResult{Path: "/data/o.csv", Chunks: 3, Rows: 2500, Elapsed: 2 * time.Second}}
	r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 1000}})

	w := postExport(r, `{"query":"SELECT 1","output":"o.csv","mode":"append"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ExportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ExportResponse{Message: "OK", Path: "/data/o.csv", Chunks: 3, Rows: 2500, ElapsedMS: 2000}, resp)

	assert.Equal(t, "SELECT 1", driver.got.Query)
	assert.Equal(t, 1000, driver.got.ChunkSize)
	assert.Equal(t, service.WriteAppend, driver.got.Mode)
}

func TestExportHandler_BadRequests(t *testing.T) {
	driver := &recordingDriver{}
	r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10}})

	testCases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing output", `{"query":"SELECT 1"}`},
		{"missing query", `{"output":"o.csv"}`},
		{"negative chunk size", `{"query":"SELECT 1","output":"o.csv","chunk_size":-1}`},
		{"unknown mode", `{"query":"SELECT 1","output":"o.csv","mode":"overwrite"}`},
		{"query file disabled", `{"query_file":"daily.sql","output":"o.csv"}`},
		{"absolute output", `{"query":"SELECT 1","output":"/etc/passwd"}`},
		{"output escapes working dir", `{"query":"SELECT 1","output":"../../x.csv"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := postExport(r, tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, driver.got, "rejected requests must not reach the driver")
}

func TestExportHandler_QueryFile(t *testing.T) {
	driver := &recordingDriver{}
	dir := t.TempDir()
	r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10, QueryDir: dir}})

	w := postExport(r, `{"query_file":"daily.sql","params":{"day":"2024-01-01"},"output":"o.csv","chunk_size":5}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, filepath.Join(dir, "daily.sql"), driver.got.QueryFile)
	assert.Equal(t, map[string]any{"day": "2024-01-01"}, driver.got.Params)
	assert.Equal(t, 5, driver.got.ChunkSize)

	w = postExport(r, `{"query_file":"../secrets.sql","output":"o.csv"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportHandler_DriverErrors(t *testing.T) {
	t.Run("export error", func(t *testing.T) {
		driver := &recordingDriver{err: &service.ExportError{
			Stage: service.StageFetch, Chunks: 2, Rows: 2000, Elapsed: 3 * time.Second, Err: errors.New("reset"),
		}}
		r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10}})

		w := postExport(r, `{"query":"SELECT 1","output":"o.csv"}`, nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "fetch", body["stage"])
		assert.Equal(t, float64(2), body["chunks"])
		assert.Equal(t, float64(3000), body["elapsed_ms"])
	})

	t.Run("invalid path from driver", func(t *testing.T) {
		driver := &recordingDriver{err: service.ErrInvalidPath}
		r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10}})

		w := postExport(r, `{"query":"SELECT 1","output":"o.csv"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("template error", func(t *testing.T) {
		driver := &recordingDriver{err: fmt.Errorf("failed to render query file: %w", service.ErrTemplate)}
		r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10}})

		w := postExport(r, `{"query":"SELECT 1","output":"o.csv"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("other error", func(t *testing.T) {
		driver := &recordingDriver{err: errors.New("connection refused")}
		r := newTestRouter(driver, RouterConfig{Handler: HandlerConfig{DefaultChunkSize: 10}})

		w := postExport(r, `{"query":"SELECT 1","output":"o.csv"}`, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
