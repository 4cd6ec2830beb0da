package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const notifyTimeout = 10 * time.Second

// ExportSummary is the payload posted to the completion webhook.
type ExportSummary struct {
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	Path      string `json:"path,omitempty"`
	Chunks    int    `json:"chunks"`
	Rows      int64  `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NotifyingDriver posts an ExportSummary to URL after every export. A failed
// notification is logged and never changes the export outcome.
type NotifyingDriver struct {
	Driver ExportDriver
	Client *HTTPClient
	URL    string
}

func (d *NotifyingDriver) Execute(ctx context.Context, params ExportParams) (ExportResult, error) {
	res, err := d.Driver.Execute(ctx, params)
	d.notify(ctx, summarize(params, res, err))
	return res, err
}

func summarize(params ExportParams, res ExportResult, err error) ExportSummary {
	s := ExportSummary{
		Status:    "completed",
		Output:    params.Output,
		Path:      res.Path,
		Chunks:    res.Chunks,
		Rows:      res.Rows,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if err != nil {
		s.Status = "failed"
		s.Error = err.Error()
		var exportErr *ExportError
		if errors.As(err, &exportErr) {
			s.Stage = exportErr.Stage
			s.Chunks = exportErr.Chunks
			s.Rows = exportErr.Rows
			s.ElapsedMS = exportErr.Elapsed.Milliseconds()
		}
	}
	return s
}

// notify runs detached from ctx cancellation so a summary still goes out
// when the export itself was interrupted.
func (d *NotifyingDriver) notify(ctx context.Context, s ExportSummary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	resp, err := d.Client.Post(ctx, d.URL, RequestOptions{Headers: ApplicationJSON, JSON: s})
	if err != nil {
		slog.WarnContext(ctx, "Export webhook failed", "url", d.URL, "error", err)
		return
	}
	resp.Body.Close()
	slog.InfoContext(ctx, "Export webhook delivered", "url", d.URL, "status", resp.StatusCode)
}
