package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyQuery       = errors.New("query is empty")
	ErrInvalidChunkSize = errors.New("chunk size must be greater than zero")
	ErrEmptyDestination = errors.New("destination path is empty")
	ErrUnknownWriteMode = errors.New("unknown write mode")
)

// WriteMode controls what happens to an existing destination file when an
// export opens it. The zero value truncates.
type WriteMode string

const (
	WriteTruncate WriteMode = "truncate"
	WriteAppend   WriteMode = "append"
)

func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WriteTruncate:
		return WriteTruncate, nil
	case WriteAppend:
		return WriteAppend, nil
	default:
		return "", fmt.Errorf("%w %q (want %q or %q)", ErrUnknownWriteMode, s, WriteTruncate, WriteAppend)
	}
}

func (m WriteMode) openFlags() int {
	if m == WriteAppend {
		return os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	return os.O_CREATE | os.O_WRONLY | os.O_TRUNC
}

// ChunkSource yields query results in bounded chunks. Next returns at most n
// rows; once the result is exhausted it returns io.EOF, possibly together
// with a final short chunk. Columns must be valid after the first Next call.
type ChunkSource interface {
	Columns() []string
	Next(ctx context.Context, n int) ([][]string, error)
	Close() error
}

// Export stages reported by ExportError.
const (
	StageConnect = "connect"
	StageOpen    = "open"
	StageFetch   = "fetch"
	StageWrite   = "write"
)

type ExportStats struct {
	Chunks  int
	Rows    int64
	Elapsed time.Duration
}

// ExportError is returned when an export aborts. Chunks and Rows count what
// was already written to the destination before the failure.
type ExportError struct {
	Stage   string
	Chunks  int
	Rows    int64
	Elapsed time.Duration
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("batch export failed during %s after %s (%d chunks written): %v", e.Stage, e.Elapsed, e.Chunks, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

type ChunkProgress struct {
	Index   int
	Rows    int
	Total   int64
	Latency time.Duration
}

// BatchExporter streams a ChunkSource into a CSV file. ChunkSize bounds the
// number of rows held in memory at once: larger values mean fewer fetch
// round trips, smaller values mean a smaller footprint. No upper bound is
// imposed.
type BatchExporter struct {
	ChunkSize int
	Mode      WriteMode
	OnChunk   func(ChunkProgress)

	now func() time.Time
}

func NewBatchExporter(chunkSize int, mode WriteMode) *BatchExporter {
	return &BatchExporter{ChunkSize: chunkSize, Mode: mode}
}

func (e *BatchExporter) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *BatchExporter) validate(dest string) error {
	if e.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if dest == "" {
		return ErrEmptyDestination
	}
	return nil
}

// SourceFunc acquires a ChunkSource for one export, typically by opening a
// connection and starting the query.
type SourceFunc func(ctx context.Context) (ChunkSource, error)

// Export writes every chunk produced by src to dest, header first. The source
// is closed on every return path.
func (e *BatchExporter) Export(ctx context.Context, src ChunkSource, dest string) (ExportStats, error) {
	if err := e.validate(dest); err != nil {
		_ = src.Close()
		return ExportStats{}, err
	}
	return e.ExportFrom(ctx, func(context.Context) (ChunkSource, error) { return src, nil }, dest)
}

// ExportFrom acquires a source with open and streams it into dest. Nothing is
// written when open fails. Output already flushed is left in place when a
// later fetch or write fails.
func (e *BatchExporter) ExportFrom(ctx context.Context, open SourceFunc, dest string) (stats ExportStats, err error) {
	if err := e.validate(dest); err != nil {
		return ExportStats{}, err
	}
	start := e.clock()

	defer func() {
		stats.Elapsed = e.clock().Sub(start)
		exportDuration.Observe(stats.Elapsed.Seconds())
		var exportErr *ExportError
		if errors.As(err, &exportErr) {
			exportErr.Elapsed = stats.Elapsed
			exportsTotal.WithLabelValues("failed").Inc()
			slog.ErrorContext(ctx, "Batch export failed",
				"destination", dest,
				"stage", exportErr.Stage,
				"chunks", exportErr.Chunks,
				"rows", exportErr.Rows,
				"elapsed", stats.Elapsed,
				"error", exportErr.Err,
			)
			return
		}
		exportsTotal.WithLabelValues("completed").Inc()
		slog.InfoContext(ctx, "Batch export finished",
			"destination", dest,
			"chunks", stats.Chunks,
			"rows", stats.Rows,
			"elapsed", stats.Elapsed,
		)
	}()

	fail := func(stage string, cause error) (ExportStats, error) {
		return stats, &ExportError{Stage: stage, Chunks: stats.Chunks, Rows: stats.Rows, Err: cause}
	}

	src, err := open(ctx)
	if err != nil {
		return fail(StageConnect, err)
	}
	defer src.Close()

	f, err := os.OpenFile(dest, e.Mode.openFlags(), 0o644)
	if err != nil {
		return fail(StageOpen, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)

	slog.InfoContext(ctx, "Writing batches", "destination", dest, "chunk_size", e.ChunkSize, "mode", e.Mode)

	headerWritten := false
	writeHeader := func() error {
		headerWritten = true
		cols := src.Columns()
		if len(cols) == 0 {
			return nil
		}
		return w.Write(cols)
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(StageFetch, ctxErr)
		}

		chunkStart := e.clock()
		rows, nextErr := src.Next(ctx, e.ChunkSize)
		done := errors.Is(nextErr, io.EOF)
		if nextErr != nil && !done {
			return fail(StageFetch, nextErr)
		}

		if len(rows) > 0 || (done && !headerWritten) {
			if !headerWritten {
				if err := writeHeader(); err != nil {
					return fail(StageWrite, err)
				}
			}
			if len(rows) > 0 {
				if err := w.WriteAll(rows); err != nil {
					return fail(StageWrite, err)
				}
			} else {
				w.Flush()
				if err := w.Error(); err != nil {
					return fail(StageWrite, err)
				}
			}
		}

		if len(rows) > 0 {
			stats.Chunks++
			stats.Rows += int64(len(rows))
			chunksWritten.Inc()
			rowsWritten.Add(float64(len(rows)))
			latency := e.clock().Sub(chunkStart)
			slog.InfoContext(ctx, "Wrote batch",
				"destination", dest,
				"batch", stats.Chunks,
				"rows", len(rows),
				"total_rows", stats.Rows,
				"latency", latency,
			)
			if e.OnChunk != nil {
				e.OnChunk(ChunkProgress{
					Index:   stats.Chunks,
					Rows:    len(rows),
					Total:   stats.Rows,
					Latency: latency,
				})
			}
		}

		if done {
			break
		}
	}

	if err := f.Sync(); err != nil {
		return fail(StageWrite, err)
	}
	return stats, nil
}

// FormatValue renders a scanned column value as a CSV cell. NULL becomes an
// empty cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		if x.Nanosecond() != 0 {
			return x.Format("2006-01-02 15:04:05.999999")
		}
		return x.Format(time.DateTime)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
