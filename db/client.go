// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

/*
Package db contains all communication between the scheduler and its database.

The database keeps history of DAG runs, state and captured outputs of their
tasks and schedule events (regular ticks, skipped overlaps, manual triggers).

# Supported databases

  - SQLite - used as the default database. It's also used as in-memory database
    and database on /tmp files for unit and integration tests.
  - Postgres
*/
package db

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DB defines a set of operations required from a database. Most of methods are
// identical with standard `*sql.DB` type.
type DB interface {
	Begin() (*sql.Tx, error)
	Exec(query string, args ...any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
	DataSource() string
	Query(query string, args ...any) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Driver says which SQL dialect Client speaks.
type Driver int

const (
	SQLite Driver = iota
	Postgres
)

func (d Driver) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Client represents the main database client.
type Client struct {
	dbConn   DB
	dbDriver Driver
	logger   *zerolog.Logger
}

// Close closes underlying database connection.
func (c *Client) Close() error {
	return c.dbConn.Close()
}

// Driver returns database driver of the client.
func (c *Client) Driver() Driver {
	return c.dbDriver
}

// Queries are written with ? placeholders. Postgres expects $N.
func (c *Client) rebind(query string) string {
	if c.dbDriver != Postgres {
		return query
	}
	var s strings.Builder
	s.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			s.WriteByte('$')
			s.WriteString(strconv.Itoa(n))
			continue
		}
		s.WriteRune(r)
	}
	return s.String()
}

func defaultLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		l := log.Logger.With().Str("component", "db").Logger()
		return &l
	}
	return logger
}

// CleanUpSqliteTmp deletes SQLite database source file if all tests in the
// scope passed. In at least one test failed, database will not be deleted, to
// enable futher debugging. Even though this function takes generic *Client,
// it's mainly meant for SQLite-based database clients which are used in
// testing.
func CleanUpSqliteTmp(c *Client, t *testing.T) {
	if closeErr := c.dbConn.Close(); closeErr != nil {
		t.Errorf("Error while closing connection to DB: %s", closeErr.Error())
	}
	if t.Failed() {
		t.Logf("Database was not deleted. Please check: sqlite3 %s",
			c.dbConn.DataSource())
		return
	}
	// tests passed, we can proceed to remove DB file
	if err := os.Remove(c.dbConn.DataSource()); err != nil {
		t.Errorf("Cannot remove database source file %s: %s",
			c.dbConn.DataSource(), err.Error())
	}
}
