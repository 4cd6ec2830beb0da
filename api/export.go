package api

import (
	"batch-exporter/service"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

type ExportRequest struct {
	Query         string         `json:"query"`
	QueryFile     string         `json:"query_file"`
	Params        map[string]any `json:"params"`
	Output        string         `json:"output" binding:"required"`
	ChunkSize     int            `json:"chunk_size" binding:"omitempty,gt=0"`
	Mode          string         `json:"mode" binding:"omitempty,oneof=truncate append"`
	QueryLocation string         `json:"query_location"`
}

type ExportResponse struct {
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Chunks    int    `json:"chunks"`
	Rows      int64  `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type HandlerConfig struct {
	DefaultChunkSize int
	// QueryDir is where query_file names are resolved. Query files are
	// rejected when it is empty.
	QueryDir string
}

func ExportHandler(driver service.ExportDriver, cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.WarnContext(c.Request.Context(), "Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		params, err := buildParams(req, cfg)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "Invalid export request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		slog.InfoContext(c.Request.Context(), "Received export request",
			"query_file", req.QueryFile,
			"output", params.Output,
			"chunk_size", params.ChunkSize,
			"mode", params.Mode,
		)

		res, err := driver.Execute(c.Request.Context(), params)
		if err != nil {
			var exportErr *service.ExportError
			switch {
			case errors.As(err, &exportErr):
				slog.ErrorContext(c.Request.Context(), "Export failed", "stage", exportErr.Stage, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":      "Failed to process export: " + err.Error(),
					"stage":      exportErr.Stage,
					"chunks":     exportErr.Chunks,
					"rows":       exportErr.Rows,
					"elapsed_ms": exportErr.Elapsed.Milliseconds(),
				})
			case isBadRequest(err):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				slog.ErrorContext(c.Request.Context(), "Export failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process export: " + err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, ExportResponse{
			Message:   "OK",
			Path:      res.Path,
			Chunks:    res.Chunks,
			Rows:      res.Rows,
			ElapsedMS: res.Elapsed.Milliseconds(),
		})
	}
}

func buildParams(req ExportRequest, cfg HandlerConfig) (service.ExportParams, error) {
	mode, err := service.ParseWriteMode(req.Mode)
	if err != nil {
		return service.ExportParams{}, err
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = cfg.DefaultChunkSize
	}

	if !filepath.IsLocal(req.Output) {
		return service.ExportParams{}, fmt.Errorf("output %q: %w", req.Output, service.ErrInvalidPath)
	}

	params := service.ExportParams{
		Query:         req.Query,
		Params:        req.Params,
		Output:        req.Output,
		ChunkSize:     chunkSize,
		Mode:          mode,
		QueryLocation: req.QueryLocation,
	}
	if req.Query == "" && req.QueryFile != "" {
		if cfg.QueryDir == "" {
			return service.ExportParams{}, errors.New("query_file is not enabled on this server")
		}
		path, err := service.ResolvePath(cfg.QueryDir, req.QueryFile)
		if err != nil {
			return service.ExportParams{}, err
		}
		params.QueryFile = path
	}
	if params.Query == "" && params.QueryFile == "" {
		return service.ExportParams{}, service.ErrEmptyQuery
	}
	return params, nil
}

func isBadRequest(err error) bool {
	return errors.Is(err, service.ErrEmptyQuery) ||
		errors.Is(err, service.ErrInvalidChunkSize) ||
		errors.Is(err, service.ErrEmptyDestination) ||
		errors.Is(err, service.ErrInvalidPath) ||
		errors.Is(err, service.ErrTemplate) ||
		errors.Is(err, fs.ErrNotExist)
}
