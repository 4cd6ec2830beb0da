package service

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDriver_Execute(t *testing.T) {
	svc, mock := newMockService(t)
	expectUsers(mock, userRows(5))
	dir := t.TempDir()

	d := NewMySQLDriver(svc, dir)
	res, err := d.Execute(context.Background(), ExportParams{
		Query:     usersQuery,
		Output:    "users.csv",
		ChunkSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "users.csv"), res.Path)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, int64(5), res.Rows)
	assert.Len(t, readCSV(t, res.Path), 6)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDriver_QueryFile(t *testing.T) {
	svc, mock := newMockService(t)
	queryDir := t.TempDir()
	queryFile := filepath.Join(queryDir, "users.sql")
	require.NoError(t, os.WriteFile(queryFile, []byte("SELECT id, name FROM {{ .table }} ORDER BY id"), 0o644))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users ORDER BY id")).WillReturnRows(userRows(1))

	d := NewMySQLDriver(svc, "")
	dest := filepath.Join(t.TempDir(), "out.csv")
	res, err := d.Execute(context.Background(), ExportParams{
		QueryFile: queryFile,
		Params:    map[string]any{"table": "users"},
		Output:    dest,
		ChunkSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, dest, res.Path)
	assert.Equal(t, int64(1), res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDriver_RejectsBadParams(t *testing.T) {
	svc, mock := newMockService(t)
	d := NewMySQLDriver(svc, t.TempDir())
	ctx := context.Background()

	_, err := d.Execute(ctx, ExportParams{Output: "a.csv", ChunkSize: 1})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = d.Execute(ctx, ExportParams{Query: usersQuery, ChunkSize: 1})
	assert.ErrorIs(t, err, ErrEmptyDestination)

	_, err = d.Execute(ctx, ExportParams{Query: usersQuery, Output: "../escape.csv", ChunkSize: 1})
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = d.Execute(ctx, ExportParams{Query: usersQuery, Output: "a.csv"})
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePath(t *testing.T) {
	p, err := ResolvePath("", "/tmp/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.csv", p)

	p, err = ResolvePath("/exports", "daily/x.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/exports", "daily", "x.csv"), p)

	for _, bad := range []string{"/etc/passwd", "../x.csv", "a/../../x.csv"} {
		_, err := ResolvePath("/exports", bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}
