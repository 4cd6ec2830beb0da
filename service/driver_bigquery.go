package service

import (
	"context"
)

type BigQueryDriver struct {
	bq        *BigQueryService
	outputDir string
}

func NewBigQueryDriver(bq *BigQueryService, outputDir string) *BigQueryDriver {
	return &BigQueryDriver{bq: bq, outputDir: outputDir}
}

func (d *BigQueryDriver) Execute(ctx context.Context, params ExportParams) (ExportResult, error) {
	query, err := params.resolveQuery()
	if err != nil {
		return ExportResult{}, err
	}
	path, err := resolveOutput(d.outputDir, params.Output)
	if err != nil {
		return ExportResult{}, err
	}
	exp := NewBatchExporter(params.ChunkSize, params.Mode)
	stats, err := exp.ExportFrom(ctx, d.bq.Source(query, params.QueryLocation, params.ChunkSize), path)
	if err != nil {
		return ExportResult{}, err
	}
	return resultFrom(path, stats), nil
}
