// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Scannable is implemented by both *sql.Row and *sql.Rows.
type Scannable interface {
	Scan(dest ...any) error
}

// Count returns count of rows for given table. If case of errors -1 is
// returned and error is logged.
func (c *Client) Count(table string) int {
	start := time.Now()
	c.logger.Debug().Str("table", table).Msg("Start COUNT query")

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	row := c.dbConn.QueryRow(query)
	var count int
	err := row.Scan(&count)
	if err != nil {
		c.logger.Error().Err(err).Str("table", table).Msg("Cannot execute COUNT(*)")
		return -1
	}
	c.logger.Debug().Str("table", table).Dur("duration", time.Since(start)).
		Msg("Finished COUNT(*) query")
	return count
}

// CountWhere returns count of rows for given table filtered by given where
// condition. If case of errors -1 is returned and error is logged.
func (c *Client) CountWhere(table, where string) int {
	start := time.Now()
	c.logger.Debug().Str("table", table).Str("where", where).
		Msg("Start COUNT query")

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	row := c.dbConn.QueryRow(query)
	var count int
	err := row.Scan(&count)
	if err != nil {
		c.logger.Error().Err(err).Str("table", table).Str("where", where).
			Msg("Cannot execute COUNT(*)")
		return -1
	}
	c.logger.Debug().Str("table", table).Str("where", where).
		Dur("duration", time.Since(start)).Msg("Finished COUNT(*) query")
	return count
}

// Reads single row using given parser.
func readRow[T any](
	ctx context.Context, dbConn DB, logger *zerolog.Logger,
	parser func(Scannable) (T, error), query string, args ...any,
) (T, error) {
	start := time.Now()
	row := dbConn.QueryRowContext(ctx, query, args...)
	res, err := parser(row)
	if err != nil {
		logger.Debug().Err(err).Str("query", query).Msg("Cannot read row")
		return res, err
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("Finished reading row")
	return res, nil
}

// Reads all rows using given parser. Rows are closed before return.
func readRows[T any](
	ctx context.Context, dbConn DB, logger *zerolog.Logger,
	parser func(Scannable) (T, error), query string, args ...any,
) ([]T, error) {
	rows, qErr := dbConn.QueryContext(ctx, query, args...)
	if qErr != nil {
		logger.Error().Err(qErr).Str("query", query).Msg("Failed querying rows")
		return nil, qErr
	}
	defer rows.Close()

	result := make([]T, 0, 16)
	for rows.Next() {
		select {
		case <-ctx.Done():
			logger.Warn().Err(ctx.Err()).Msg("Context done while processing rows")
			return nil, ctx.Err()
		default:
		}
		item, scanErr := parser(rows)
		if scanErr != nil {
			logger.Error().Err(scanErr).Msg("Failed scanning a record")
			return nil, scanErr
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// Executes query with two columns and returns mapping from the first column
// onto the second one.
func groupBy2[K comparable, V any](
	ctx context.Context, dbConn DB, logger *zerolog.Logger, query string,
	args ...any,
) (map[K]V, error) {
	rows, qErr := dbConn.QueryContext(ctx, query, args...)
	if qErr != nil {
		logger.Error().Err(qErr).Str("query", query).Msg("Failed querying groupBy2")
		return nil, qErr
	}
	defer rows.Close()

	result := make(map[K]V)
	for rows.Next() {
		var key K
		var value V
		if err := rows.Scan(&key, &value); err != nil {
			logger.Error().Err(err).Msg("Failed scanning groupBy2 record")
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}
