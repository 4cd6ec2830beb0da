package service

import (
	"context"
)

type MySQLDriver struct {
	my        *MySQLService
	outputDir string
}

func NewMySQLDriver(my *MySQLService, outputDir string) *MySQLDriver {
	return &MySQLDriver{my: my, outputDir: outputDir}
}

func (d *MySQLDriver) Execute(ctx context.Context, params ExportParams) (ExportResult, error) {
	query, err := params.resolveQuery()
	if err != nil {
		return ExportResult{}, err
	}
	path, err := resolveOutput(d.outputDir, params.Output)
	if err != nil {
		return ExportResult{}, err
	}
	stats, err := d.my.BatchQuery(ctx, query, params.ChunkSize, path, params.Mode)
	if err != nil {
		return ExportResult{}, err
	}
	return resultFrom(path, stats), nil
}
