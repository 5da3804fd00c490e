package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// NewSqliteClient produces new Client for SQLite database stored in given
// file. Schema is created when it does not exist yet.
func NewSqliteClient(dbFilePath string, logger *zerolog.Logger) (*Client, error) {
	if dir := filepath.Dir(dbFilePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create directory for database: %w", err)
		}
	}
	dbConn, err := sql.Open("sqlite", dbFilePath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := setupSchema(dbConn, SQLite); err != nil {
		dbConn.Close()
		return nil, err
	}
	sqliteDB := SqliteDB{dbConn: dbConn, dbFilePath: dbFilePath}
	return &Client{
		dbConn:   &sqliteDB,
		dbDriver: SQLite,
		logger:   defaultLogger(logger),
	}, nil
}

// NewSqliteTmpClient produces new Client for SQLite database in a new file in
// temporary directory. It's meant for tests. Use CleanUpSqliteTmp to remove
// the file.
func NewSqliteTmpClient(logger *zerolog.Logger) (*Client, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("melt-%s.db", uuid.NewString()))
	return NewSqliteClient(path, logger)
}

// NewSqliteInMemoryClient produces new Client using in-memory SQLite
// database. Every client gets its own database.
func NewSqliteInMemoryClient(logger *zerolog.Logger) (*Client, error) {
	dbConn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Each new connection would see a fresh, empty database.
	dbConn.SetMaxOpenConns(1)
	if err := setupSchema(dbConn, SQLite); err != nil {
		dbConn.Close()
		return nil, err
	}
	return &Client{
		dbConn:   &SqliteDBInMemory{dbConn: dbConn},
		dbDriver: SQLite,
		logger:   defaultLogger(logger),
	}, nil
}

type SqliteDB struct {
	sync.RWMutex
	dbConn     *sql.DB
	dbFilePath string
}

func (s *SqliteDB) Begin() (*sql.Tx, error) {
	return s.dbConn.Begin()
}

func (s *SqliteDB) Exec(query string, args ...any) (sql.Result, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.Exec(query, args...)
}

func (s *SqliteDB) ExecContext(
	ctx context.Context, query string, args ...any,
) (sql.Result, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.ExecContext(ctx, query, args...)
}

func (s *SqliteDB) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.Close()
}

func (s *SqliteDB) DataSource() string {
	return s.dbFilePath
}

func (s *SqliteDB) Query(query string, args ...any) (*sql.Rows, error) {
	s.RLock()
	defer s.RUnlock()
	return s.dbConn.Query(query, args...)
}

func (s *SqliteDB) QueryContext(
	ctx context.Context, query string, args ...any,
) (*sql.Rows, error) {
	s.RLock()
	defer s.RUnlock()
	return s.dbConn.QueryContext(ctx, query, args...)
}

func (s *SqliteDB) QueryRow(query string, args ...any) *sql.Row {
	s.RLock()
	defer s.RUnlock()
	return s.dbConn.QueryRow(query, args...)
}

func (s *SqliteDB) QueryRowContext(
	ctx context.Context, query string, args ...any,
) *sql.Row {
	s.RLock()
	defer s.RUnlock()
	return s.dbConn.QueryRowContext(ctx, query, args...)
}

// SQLite database where data is stored in the memory rather than in a file on
// a disk. It uses single connection, so rows has to be closed before the next
// query.
type SqliteDBInMemory struct {
	sync.Mutex
	dbConn *sql.DB
}

func (s *SqliteDBInMemory) Begin() (*sql.Tx, error) {
	return s.dbConn.Begin()
}

func (s *SqliteDBInMemory) Exec(query string, args ...any) (sql.Result, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.Exec(query, args...)
}

func (s *SqliteDBInMemory) ExecContext(
	ctx context.Context, query string, args ...any,
) (sql.Result, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.ExecContext(ctx, query, args...)
}

func (s *SqliteDBInMemory) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.Close()
}

func (s *SqliteDBInMemory) DataSource() string {
	return "IN_MEMORY"
}

func (s *SqliteDBInMemory) Query(query string, args ...any) (*sql.Rows, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.Query(query, args...)
}

func (s *SqliteDBInMemory) QueryContext(
	ctx context.Context, query string, args ...any,
) (*sql.Rows, error) {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.QueryContext(ctx, query, args...)
}

func (s *SqliteDBInMemory) QueryRow(query string, args ...any) *sql.Row {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.QueryRow(query, args...)
}

func (s *SqliteDBInMemory) QueryRowContext(
	ctx context.Context, query string, args ...any,
) *sql.Row {
	s.Lock()
	defer s.Unlock()
	return s.dbConn.QueryRowContext(ctx, query, args...)
}
