package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrInvalidPath is returned for paths that would leave their base directory.
var ErrInvalidPath = errors.New("path must be relative and stay inside its base directory")

type ExportParams struct {
	Query         string
	QueryFile     string
	Params        map[string]any
	Output        string
	ChunkSize     int
	Mode          WriteMode
	QueryLocation string
}

type ExportResult struct {
	Path    string
	Chunks  int
	Rows    int64
	Elapsed time.Duration
}

type ExportDriver interface {
	Execute(ctx context.Context, params ExportParams) (ExportResult, error)
}

// resolveQuery returns the literal query, or renders QueryFile with Params
// when no literal query was given.
func (p ExportParams) resolveQuery() (string, error) {
	if p.Query != "" {
		return p.Query, nil
	}
	if p.QueryFile == "" {
		return "", ErrEmptyQuery
	}
	q, err := RenderFile(p.QueryFile, p.Params)
	if err != nil {
		return "", fmt.Errorf("failed to render query file: %w", err)
	}
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

func resolveOutput(dir, output string) (string, error) {
	if output == "" {
		return "", ErrEmptyDestination
	}
	return ResolvePath(dir, output)
}

// ResolvePath places name under dir. With an empty dir the name is used as
// given; otherwise it must be a local path that stays inside dir.
func ResolvePath(dir, name string) (string, error) {
	if dir == "" {
		return name, nil
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidPath)
	}
	return filepath.Join(dir, name), nil
}

func resultFrom(path string, stats ExportStats) ExportResult {
	return ExportResult{Path: path, Chunks: stats.Chunks, Rows: stats.Rows, Elapsed: stats.Elapsed}
}
