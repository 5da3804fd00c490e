// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/meltinfra/bootstrap/timeutils"
	"github.com/meltinfra/bootstrap/version"
)

// DagRunTask represents a row in dagruntasks table. Output is set only for
// successful tasks and Reason only for failed or skipped ones.
type DagRunTask struct {
	RunId          string
	TaskId         string
	InsertTs       string
	Status         string
	StatusUpdateTs string
	Output         *string
	Reason         *string
	Version        string
}

// InsertDagRunTask inserts new DAG run task in given status.
func (c *Client) InsertDagRunTask(
	ctx context.Context, runId, taskId, status string,
) error {
	start := time.Now()
	insertTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Str("runId", runId).Str("taskId", taskId).
		Str("status", status).Msg("Start inserting new dag run task")
	_, iErr := c.dbConn.ExecContext(
		ctx, c.rebind(c.insertDagRunTaskQuery()),
		runId, taskId, insertTs, status, insertTs, version.Version,
	)
	if iErr != nil {
		c.logger.Error().Err(iErr).Str("runId", runId).Str("taskId", taskId).
			Msg("Failed to insert new dag run task")
		return iErr
	}
	c.logger.Debug().Str("runId", runId).Str("taskId", taskId).
		Dur("duration", time.Since(start)).
		Msg("Finished inserting new dag run task")
	return nil
}

// UpdateDagRunTask updates status of given DAG run task together with its
// captured output and failure reason. Nil output and empty reason are stored
// as NULL. When the task does not exist sql.ErrNoRows is returned.
func (c *Client) UpdateDagRunTask(
	ctx context.Context, runId, taskId, status string, output *string,
	reason string,
) error {
	start := time.Now()
	updateTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Str("runId", runId).Str("taskId", taskId).
		Str("status", status).Msg("Start updating dag run task")
	var reasonVal *string
	if reason != "" {
		reasonVal = &reason
	}
	res, err := c.dbConn.ExecContext(
		ctx, c.rebind(c.updateDagRunTaskQuery()),
		status, updateTs, output, reasonVal, runId, taskId,
	)
	if err != nil {
		c.logger.Error().Err(err).Str("runId", runId).Str("taskId", taskId).
			Str("status", status).Msg("Cannot update dag run task")
		return err
	}
	if rowsUpdated, _ := res.RowsAffected(); rowsUpdated == 0 {
		return sql.ErrNoRows
	}
	c.logger.Debug().Str("runId", runId).Str("taskId", taskId).
		Str("status", status).Dur("duration", time.Since(start)).
		Msg("Finished updating dag run task")
	return nil
}

// ReadDagRunTasks reads all tasks of given DAG run in order of insertion.
func (c *Client) ReadDagRunTasks(ctx context.Context, runId string) ([]DagRunTask, error) {
	return readRows(
		ctx, c.dbConn, c.logger, parseDagRunTask,
		c.rebind(c.readDagRunTasksQuery()), runId,
	)
}

// ReadDagRunTask reads single DAG run task.
func (c *Client) ReadDagRunTask(ctx context.Context, runId, taskId string) (DagRunTask, error) {
	return readRow(
		ctx, c.dbConn, c.logger, parseDagRunTask,
		c.rebind(c.readDagRunTaskQuery()), runId, taskId,
	)
}

// RunningTasksNum returns number of currently running tasks.
func (c *Client) RunningTasksNum(ctx context.Context) (int, error) {
	row := c.dbConn.QueryRowContext(
		ctx, c.rebind("SELECT COUNT(*) FROM dagruntasks WHERE Status = ?"),
		statusRunning,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return -1, err
	}
	return count, nil
}

func parseDagRunTask(rows Scannable) (DagRunTask, error) {
	var drt DagRunTask
	scanErr := rows.Scan(&drt.RunId, &drt.TaskId, &drt.InsertTs, &drt.Status,
		&drt.StatusUpdateTs, &drt.Output, &drt.Reason, &drt.Version)
	if scanErr != nil {
		return DagRunTask{}, scanErr
	}
	return drt, nil
}

const dagRunTaskColumns = `
	RunId,
	TaskId,
	InsertTs,
	Status,
	StatusUpdateTs,
	Output,
	Reason,
	Version
`

func (c *Client) insertDagRunTaskQuery() string {
	return `
	INSERT INTO dagruntasks (RunId, TaskId, InsertTs, Status, StatusUpdateTs,
		Version)
	VALUES (?, ?, ?, ?, ?, ?)
`
}

func (c *Client) updateDagRunTaskQuery() string {
	return `
	UPDATE dagruntasks
	SET Status = ?, StatusUpdateTs = ?, Output = ?, Reason = ?
	WHERE RunId = ? AND TaskId = ?
`
}

func (c *Client) readDagRunTasksQuery() string {
	return `SELECT` + dagRunTaskColumns + `
		FROM dagruntasks
		WHERE RunId = ?
		ORDER BY InsertTs ASC, TaskId ASC
	`
}

func (c *Client) readDagRunTaskQuery() string {
	return `SELECT` + dagRunTaskColumns + `
		FROM dagruntasks
		WHERE RunId = ? AND TaskId = ?
	`
}
