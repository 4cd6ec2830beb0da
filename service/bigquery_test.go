package service

import (
	"context"
	"errors"
	"io"
	"math/big"
	"path/filepath"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

type fakeRowIterator struct {
	rows   [][]bigquery.Value
	err    error
	pos    int
	schema bigquery.Schema
	loaded bool
}

func (it *fakeRowIterator) Next(dst interface{}) error {
	it.loaded = true
	if it.pos >= len(it.rows) {
		if it.err != nil {
			return it.err
		}
		return iterator.Done
	}
	*dst.(*[]bigquery.Value) = it.rows[it.pos]
	it.pos++
	return nil
}

func (it *fakeRowIterator) Schema() bigquery.Schema {
	if !it.loaded {
		return nil
	}
	return it.schema
}

func newFakeBigQuerySource(it *fakeRowIterator) *bigQueryChunkSource {
	return newBigQueryChunkSource(it.Next, it.Schema)
}

func TestBigQueryChunkSource_Next(t *testing.T) {
	it := &fakeRowIterator{
		schema: bigquery.Schema{{Name: "day"}, {Name: "amount"}, {Name: "note"}},
		rows: [][]bigquery.Value{
			{civil.Date{Year: 2024, Month: 1, Day: 2}, big.NewRat(3, 2), "first"},
			{civil.Date{Year: 2024, Month: 1, Day: 3}, nil, nil},
			{civil.Date{Year: 2024, Month: 1, Day: 4}, big.NewRat(1, 4), "third"},
		},
	}
	src := newFakeBigQuerySource(it)

	chunk, err := src.Next(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"day", "amount", "note"}, src.Columns())
	assert.Equal(t, [][]string{
		{"2024-01-02", "1.500000000", "first"},
		{"2024-01-03", "", ""},
	}, chunk)

	chunk, err = src.Next(context.Background(), 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, [][]string{{"2024-01-04", "0.250000000", "third"}}, chunk)
}

func TestBigQueryChunkSource_Export(t *testing.T) {
	rows := make([][]bigquery.Value, 25)
	for i := range rows {
		rows[i] = []bigquery.Value{int64(i), true}
	}
	it := &fakeRowIterator{schema: bigquery.Schema{{Name: "n"}, {Name: "ok"}}, rows: rows}
	dest := filepath.Join(t.TempDir(), "bq.csv")

	stats, err := NewBatchExporter(10, WriteTruncate).Export(context.Background(), newFakeBigQuerySource(it), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)

	records := readCSV(t, dest)
	require.Len(t, records, 26)
	assert.Equal(t, []string{"n", "ok"}, records[0])
	assert.Equal(t, []string{"24", "true"}, records[25])
}

func TestBigQueryChunkSource_IteratorError(t *testing.T) {
	quota := errors.New("quota exceeded")
	it := &fakeRowIterator{
		schema: bigquery.Schema{{Name: "n"}},
		rows:   [][]bigquery.Value{{int64(1)}},
		err:    quota,
	}

	chunk, err := newFakeBigQuerySource(it).Next(context.Background(), 5)
	assert.ErrorIs(t, err, quota)
	assert.Nil(t, chunk)
}
