// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// NewPostgresClient creates Client over an open PostgreSQL connection. Run
// archive tables are created when any of them is missing.
func NewPostgresClient(dbConn *sql.DB, dbName string, logger *zerolog.Logger) (*Client, error) {
	missing, err := missingPostgresTables(dbConn, TableNames)
	if err != nil {
		return nil, err
	}
	if missing > 0 {
		if err := setupSchema(dbConn, Postgres); err != nil {
			return nil, err
		}
	}
	return &Client{
		dbConn:   &PostgresDB{dbConn: dbConn, dbName: dbName},
		dbDriver: Postgres,
		logger:   defaultLogger(logger),
	}, nil
}

// OpenPostgresClient opens connection based on given lib/pq connection string
// and creates the Client.
func OpenPostgresClient(connStr, dbName string, logger *zerolog.Logger) (*Client, error) {
	dbConn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	c, err := NewPostgresClient(dbConn, dbName, logger)
	if err != nil {
		dbConn.Close()
		return nil, err
	}
	return c, nil
}

// missingPostgresTables counts how many of given tables don't exist in the
// current schema.
func missingPostgresTables(dbConn *sql.DB, tables []string) (int, error) {
	const query = `
SELECT COUNT(*)
FROM unnest($1::text[]) AS t(name)
WHERE to_regclass(t.name) IS NULL
`
	var missing int
	if err := dbConn.QueryRow(query, pq.Array(tables)).Scan(&missing); err != nil {
		return 0, fmt.Errorf("cannot check postgres schema: %w", err)
	}
	return missing, nil
}

// PostgresDB represents Client for PostgreSQL database.
type PostgresDB struct {
	dbConn *sql.DB
	dbName string
}

func (s *PostgresDB) Begin() (*sql.Tx, error) {
	return s.dbConn.Begin()
}

func (s *PostgresDB) Exec(query string, args ...any) (sql.Result, error) {
	return s.dbConn.Exec(query, args...)
}

func (s *PostgresDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.dbConn.ExecContext(ctx, query, args...)
}

func (s *PostgresDB) Close() error {
	return s.dbConn.Close()
}

func (s *PostgresDB) DataSource() string {
	return s.dbName
}

func (s *PostgresDB) Query(query string, args ...any) (*sql.Rows, error) {
	return s.dbConn.Query(query, args...)
}

func (s *PostgresDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.dbConn.QueryContext(ctx, query, args...)
}

func (s *PostgresDB) QueryRow(query string, args ...any) *sql.Row {
	return s.dbConn.QueryRow(query, args...)
}

func (s *PostgresDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.dbConn.QueryRowContext(ctx, query, args...)
}
