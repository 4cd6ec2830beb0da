package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type BigQueryService struct {
	client    *bigquery.Client
	projectID string
}

func NewBigQueryService(ctx context.Context, projectID string) (*BigQueryService, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &BigQueryService{
		client:    client,
		projectID: projectID,
	}, nil
}

func (s *BigQueryService) Close() error {
	return s.client.Close()
}

// Source returns a SourceFunc that runs query in location and pages through
// the result pageSize rows at a time.
func (s *BigQueryService) Source(query, location string, pageSize int) SourceFunc {
	return func(ctx context.Context) (ChunkSource, error) {
		q := s.client.Query(query)
		q.Location = location

		job, err := q.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start query job: %w", err)
		}
		slog.InfoContext(ctx, "BigQuery job submitted", "job_id", job.ID(), "location", location)

		it, err := job.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read query results: %w", err)
		}
		it.PageInfo().MaxSize = pageSize
		return newBigQueryChunkSource(it.Next, func() bigquery.Schema { return it.Schema }), nil
	}
}

// bigQueryChunkSource adapts a RowIterator. The schema is only populated
// once the iterator has fetched its first page.
type bigQueryChunkSource struct {
	next   func(dst interface{}) error
	schema func() bigquery.Schema
	cols   []string
}

func newBigQueryChunkSource(next func(dst interface{}) error, schema func() bigquery.Schema) *bigQueryChunkSource {
	return &bigQueryChunkSource{next: next, schema: schema}
}

func (s *bigQueryChunkSource) Columns() []string {
	if s.cols == nil {
		for _, f := range s.schema() {
			s.cols = append(s.cols, f.Name)
		}
	}
	return s.cols
}

func (s *bigQueryChunkSource) Next(ctx context.Context, n int) ([][]string, error) {
	chunk := make([][]string, 0, n)
	for len(chunk) < n {
		var values []bigquery.Value
		err := s.next(&values)
		if errors.Is(err, iterator.Done) {
			return chunk, io.EOF
		}
		if err != nil {
			return nil, err
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatBigQueryValue(v)
		}
		chunk = append(chunk, record)
	}
	return chunk, nil
}

func (s *bigQueryChunkSource) Close() error { return nil }

func formatBigQueryValue(v bigquery.Value) string {
	switch x := v.(type) {
	case *big.Rat:
		if x == nil {
			return ""
		}
		return x.FloatString(9)
	case []bigquery.Value:
		return fmt.Sprint(x)
	default:
		return FormatValue(x)
	}
}
