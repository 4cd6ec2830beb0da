package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const defaultMySQLPort = "3306"

// MySQLConfig holds the connection settings passed through to the driver.
// Host may carry a port; Database is optional. Params are extra DSN
// parameters such as timeout or tls.
type MySQLConfig struct {
	User     string
	Password string
	Host     string
	Database string
	Params   map[string]string
}

func NewMySQLConfigFromEnv() (MySQLConfig, error) {
	cfg := MySQLConfig{
		User:     os.Getenv("MYSQL_USER"),
		Password: os.Getenv("MYSQL_PASSWORD"),
		Host:     os.Getenv("MYSQL_HOST"),
		Database: os.Getenv("MYSQL_DB"),
		Params:   ParsePairs(os.Getenv("MYSQL_PARAMS")),
	}
	if cfg.Host == "" || cfg.User == "" {
		return MySQLConfig{}, fmt.Errorf("missing MySQL env: require MYSQL_HOST, MYSQL_USER")
	}
	return cfg, nil
}

// ParsePairs parses "key=value,other=value". Empty entries are skipped and
// an empty input yields nil.
func ParsePairs(s string) map[string]string {
	var out map[string]string
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if out == nil {
			out = map[string]string{}
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func (c MySQLConfig) driverConfig() *mysql.Config {
	addr := c.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultMySQLPort)
	}

	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range c.Params {
		cfg.Params[k] = v
	}
	return cfg
}

// DSN returns the driver connection string.
func (c MySQLConfig) DSN() string {
	return c.driverConfig().FormatDSN()
}

// Redacted returns the connection string with the password masked.
func (c MySQLConfig) Redacted() string {
	cfg := c.driverConfig()
	if cfg.Passwd != "" {
		cfg.Passwd = "xxxxx"
	}
	return cfg.FormatDSN()
}

type MySQLService struct {
	db *sql.DB
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*MySQLService, error) {
	slog.InfoContext(ctx, "Connecting to MySQL", "dsn", cfg.Redacted())

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL handle: %w", err)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return NewMySQLService(db), nil
}

// NewMySQLService wraps an already opened handle.
func NewMySQLService(db *sql.DB) *MySQLService {
	return &MySQLService{db: db}
}

func (s *MySQLService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Execute runs a statement inside a transaction and commits it. Use it for
// INSERT, UPDATE and DELETE.
func (s *MySQLService) Execute(ctx context.Context, query string) (res sql.Result, err error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err = tx.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit statement: %w", err)
	}
	return res, nil
}

// Query returns a cursor over the result. The caller must close it.
func (s *MySQLService) Query(ctx context.Context, query string) (*sql.Rows, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	return s.db.QueryContext(ctx, query)
}

// QueryRecords materializes the whole result, one map per row keyed by
// column name. Only use it for results that fit in memory; BatchQuery
// streams.
func (s *MySQLService) QueryRecords(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values, err := scanValues(rows, len(cols))
		if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = values[i]
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// BatchQuery streams the query result into a CSV file, chunkSize rows at a
// time. Each call runs on its own connection, released when the export ends.
func (s *MySQLService) BatchQuery(ctx context.Context, query string, chunkSize int, dest string, mode WriteMode) (ExportStats, error) {
	if query == "" {
		return ExportStats{}, ErrEmptyQuery
	}
	exp := NewBatchExporter(chunkSize, mode)
	return exp.ExportFrom(ctx, s.Source(query), dest)
}

// Source returns a SourceFunc that opens a dedicated connection and starts
// query on it. The driver reads rows off the wire as they are scanned, so
// only the current chunk is held in memory.
func (s *MySQLService) Source(query string) SourceFunc {
	return func(ctx context.Context) (ChunkSource, error) {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			_ = conn.Close()
			return nil, err
		}
		return &sqlChunkSource{conn: conn, rows: rows, cols: cols}, nil
	}
}

type sqlChunkSource struct {
	conn *sql.Conn
	rows *sql.Rows
	cols []string
}

func (s *sqlChunkSource) Columns() []string { return s.cols }

func (s *sqlChunkSource) Next(ctx context.Context, n int) ([][]string, error) {
	chunk := make([][]string, 0, n)
	for len(chunk) < n {
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return nil, err
			}
			return chunk, io.EOF
		}
		values, err := scanValues(s.rows, len(s.cols))
		if err != nil {
			return nil, err
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = FormatValue(v)
		}
		chunk = append(chunk, record)
	}
	return chunk, nil
}

func (s *sqlChunkSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.conn.Close(); err != nil {
		return err
	}
	return rowsErr
}

func scanValues(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
