// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meltinfra/bootstrap/timeutils"
	"github.com/meltinfra/bootstrap/version"
)

// DagRun represent a row of data in dagruns table.
type DagRun struct {
	RunId          string
	DagId          string
	TriggerTs      string
	TriggerEvent   string
	InsertTs       string
	Status         string
	StatusUpdateTs string
	Version        string
}

// DagRunWithTaskInfo contains information about a DAG run and additionally
// information about that DAG tasks.
type DagRunWithTaskInfo struct {
	DagRun           DagRun
	TaskNum          int
	TaskCompletedNum int
}

// Those should be consistent with dag.RunStatus and dag.TaskStatus string
// values. We cannot use those in here, because db package cannot depend on
// dag package.
const (
	statusScheduled      = "SCHEDULED"
	statusRunning        = "RUNNING"
	statusSuccess        = "SUCCESS"
	statusFailed         = "FAILED"
	statusUpstreamFailed = "UPSTREAM_FAILED"
)

// InsertDagRun inserts new row into dagruns table. Initial status is
// SCHEDULED.
func (c *Client) InsertDagRun(
	ctx context.Context, runId, dagId, triggerTs, triggerEvent string,
) error {
	start := time.Now()
	insertTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Str("runId", runId).Str("dagId", dagId).
		Str("triggerTs", triggerTs).Msg("Start inserting dag run")
	_, err := c.dbConn.ExecContext(
		ctx, c.rebind(c.insertDagRunQuery()),
		runId, dagId, triggerTs, triggerEvent, insertTs, statusScheduled,
		insertTs, version.Version,
	)
	if err != nil {
		c.logger.Error().Err(err).Str("runId", runId).Str("dagId", dagId).
			Msg("Cannot insert new dag run")
		return err
	}
	c.logger.Debug().Str("runId", runId).Dur("duration", time.Since(start)).
		Msg("Finished inserting dag run in state SCHEDULED")
	return nil
}

// ReadDagRun reads DAG run information for given run ID. When there is no
// such run sql.ErrNoRows is returned.
func (c *Client) ReadDagRun(ctx context.Context, runId string) (DagRun, error) {
	return readRow(
		ctx, c.dbConn, c.logger, parseDagRun,
		c.rebind(c.readDagRunQuery()), runId,
	)
}

// ReadDagRuns reads topN latest dag runs for given DAG ID, from the newest
// one. Negative topN means all runs.
func (c *Client) ReadDagRuns(ctx context.Context, dagId string, topN int) ([]DagRun, error) {
	start := time.Now()
	c.logger.Debug().Str("dagId", dagId).Int("topN", topN).
		Msg("Start reading dag runs from DB")
	args := []any{dagId}
	if topN >= 0 {
		args = append(args, topN)
	}
	dagruns, err := readRows(
		ctx, c.dbConn, c.logger, parseDagRun,
		c.rebind(c.readDagRunsQuery(topN)), args...,
	)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("dagId", dagId).Int("topN", topN).
		Dur("duration", time.Since(start)).Msg("Finished reading dag runs")
	return dagruns, nil
}

// Updates dagrun status for given runId.
func (c *Client) UpdateDagRunStatus(
	ctx context.Context, runId string, status string,
) error {
	start := time.Now()
	updateTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Str("runId", runId).Str("status", status).
		Msg("Start updating dag run status")
	res, err := c.dbConn.ExecContext(
		ctx, c.rebind(c.updateDagRunStatusQuery()), status, updateTs, runId,
	)
	if err != nil {
		c.logger.Error().Err(err).Str("runId", runId).Str("status", status).
			Msg("Cannot update dag run")
		return err
	}
	rowsUpdated, _ := res.RowsAffected()
	if rowsUpdated == 0 {
		return sql.ErrNoRows
	}
	if rowsUpdated > 1 {
		c.logger.Error().Str("runId", runId).Int64("rowsUpdated", rowsUpdated).
			Msg("Seems that too many rows were updated. Expected exactly one")
		return errors.New("too many rows updated")
	}
	c.logger.Debug().Str("runId", runId).Str("status", status).
		Dur("duration", time.Since(start)).Msg("Finished updating dag run")
	return nil
}

// Reads dag runs which are not in terminal states.
func (c *Client) ReadDagRunsNotFinished(ctx context.Context) ([]DagRun, error) {
	return readRows(
		ctx, c.dbConn, c.logger, parseDagRun,
		c.rebind(c.readDagRunNotFinishedQuery()), statusSuccess, statusFailed,
	)
}

// MarkUnfinishedRunsFailed marks DAG runs and their tasks which are not in
// terminal state as FAILED with given reason. It's called on scheduler startup,
// because runs interrupted by a restart are never resumed. Returns number of
// DAG runs updated.
func (c *Client) MarkUnfinishedRunsFailed(ctx context.Context, reason string) (int64, error) {
	start := time.Now()
	updateTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Msg("Start marking unfinished dag runs as FAILED")

	_, tErr := c.dbConn.ExecContext(
		ctx, c.rebind(c.failUnfinishedTasksQuery()), statusFailed, updateTs,
		reason, statusSuccess, statusFailed, statusUpstreamFailed,
	)
	if tErr != nil {
		c.logger.Error().Err(tErr).Msg("Cannot mark unfinished tasks as FAILED")
		return 0, fmt.Errorf("cannot update dagruntasks: %w", tErr)
	}
	res, rErr := c.dbConn.ExecContext(
		ctx, c.rebind(c.failUnfinishedRunsQuery()), statusFailed, updateTs,
		statusSuccess, statusFailed,
	)
	if rErr != nil {
		c.logger.Error().Err(rErr).Msg("Cannot mark unfinished dag runs as FAILED")
		return 0, fmt.Errorf("cannot update dagruns: %w", rErr)
	}
	updated, _ := res.RowsAffected()
	c.logger.Debug().Int64("updated", updated).Dur("duration", time.Since(start)).
		Msg("Finished marking unfinished dag runs as FAILED")
	return updated, nil
}

// Reads aggregation of all DAG run by its status.
func (c *Client) ReadDagRunsAggByStatus(ctx context.Context) (map[string]int, error) {
	return groupBy2[string, int](
		ctx, c.dbConn, c.logger, c.readDagRunsAggByStatus(),
	)
}

// Reads latest N DAG runs with information about number of tasks completed and
// tasks overall.
func (c *Client) ReadDagRunsWithTaskInfo(ctx context.Context, latest int) ([]DagRunWithTaskInfo, error) {
	start := time.Now()
	c.logger.Debug().Int("latest", latest).
		Msg("Start reading latest dag runs with task info")
	result, err := readRows(
		ctx, c.dbConn, c.logger, parseDagRunWithTaskInfo,
		c.rebind(c.readDagRunsWithTaskInfoQuery()), statusSuccess, latest,
	)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("latest", latest).Dur("duration", time.Since(start)).
		Msg("Finished reading dag runs with task info")
	return result, nil
}

func parseDagRun(rows Scannable) (DagRun, error) {
	var dr DagRun
	scanErr := rows.Scan(&dr.RunId, &dr.DagId, &dr.TriggerTs,
		&dr.TriggerEvent, &dr.InsertTs, &dr.Status, &dr.StatusUpdateTs,
		&dr.Version)
	if scanErr != nil {
		return DagRun{}, scanErr
	}
	return dr, nil
}

func parseDagRunWithTaskInfo(rows Scannable) (DagRunWithTaskInfo, error) {
	var dr DagRun
	var taskNum, taskCompleted int
	scanErr := rows.Scan(&dr.RunId, &dr.DagId, &dr.TriggerTs,
		&dr.TriggerEvent, &dr.InsertTs, &dr.Status, &dr.StatusUpdateTs,
		&dr.Version, &taskNum, &taskCompleted)
	if scanErr != nil {
		return DagRunWithTaskInfo{}, scanErr
	}
	return DagRunWithTaskInfo{
		DagRun:           dr,
		TaskNum:          taskNum,
		TaskCompletedNum: taskCompleted,
	}, nil
}

const dagRunColumns = `
	RunId,
	DagId,
	TriggerTs,
	TriggerEvent,
	InsertTs,
	Status,
	StatusUpdateTs,
	Version
`

func (c *Client) insertDagRunQuery() string {
	return `
	INSERT INTO dagruns (RunId, DagId, TriggerTs, TriggerEvent, InsertTs,
		Status, StatusUpdateTs, Version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
}

func (c *Client) readDagRunQuery() string {
	return `SELECT` + dagRunColumns + `FROM dagruns WHERE RunId = ?`
}

func (c *Client) readDagRunsQuery(topN int) string {
	q := `SELECT` + dagRunColumns + `
		FROM dagruns
		WHERE DagId = ?
		ORDER BY TriggerTs DESC, InsertTs DESC
	`
	if topN >= 0 {
		q += "LIMIT ?"
	}
	return q
}

func (c *Client) updateDagRunStatusQuery() string {
	return `
	UPDATE dagruns
	SET Status = ?, StatusUpdateTs = ?
	WHERE RunId = ?
`
}

func (c *Client) readDagRunNotFinishedQuery() string {
	return `SELECT` + dagRunColumns + `
		FROM dagruns
		WHERE Status NOT IN (?, ?)
		ORDER BY TriggerTs ASC
	`
}

func (c *Client) failUnfinishedTasksQuery() string {
	return `
	UPDATE dagruntasks
	SET Status = ?, StatusUpdateTs = ?, Reason = ?
	WHERE Status NOT IN (?, ?, ?)
`
}

func (c *Client) failUnfinishedRunsQuery() string {
	return `
	UPDATE dagruns
	SET Status = ?, StatusUpdateTs = ?
	WHERE Status NOT IN (?, ?)
`
}

func (c *Client) readDagRunsAggByStatus() string {
	return "SELECT Status, COUNT(*) FROM dagruns GROUP BY Status"
}

func (c *Client) readDagRunsWithTaskInfoQuery() string {
	return `
	SELECT
		d.RunId,
		d.DagId,
		d.TriggerTs,
		d.TriggerEvent,
		d.InsertTs,
		d.Status,
		d.StatusUpdateTs,
		d.Version,
		COUNT(t.TaskId) AS TaskNum,
		SUM(CASE WHEN t.Status = ? THEN 1 ELSE 0 END) AS TaskCompletedNum
	FROM
		dagruns d
	LEFT JOIN
		dagruntasks t ON d.RunId = t.RunId
	GROUP BY
		d.RunId, d.DagId, d.TriggerTs, d.TriggerEvent, d.InsertTs, d.Status,
		d.StatusUpdateTs, d.Version
	ORDER BY
		d.TriggerTs DESC, d.InsertTs DESC
	LIMIT ?
`
}
