// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/meltinfra/bootstrap/version"
)

const testDagId = "melt-bootstrap"

func TestInsertAndReadDagRun(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "run-1", "2024-03-24T12:00:00.000000Z")

	dr, err := c.ReadDagRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Cannot read dag run: %s", err)
	}
	if dr.DagId != testDagId || dr.Status != statusScheduled ||
		dr.TriggerEvent != "REGULAR" || dr.Version != version.Version {
		t.Errorf("Unexpected dag run: %+v", dr)
	}
	if dr.InsertTs != dr.StatusUpdateTs {
		t.Errorf("Expected InsertTs == StatusUpdateTs on insert, got %s and %s",
			dr.InsertTs, dr.StatusUpdateTs)
	}

	_, err = c.ReadDagRun(ctx, "not-there")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows for missing run, got: %v", err)
	}
}

func TestInsertDagRunDuplicatedRunId(t *testing.T) {
	c := newClientForTesting(t)
	insertDagRun(t, c, "run-1", "2024-03-24T12:00:00.000000Z")
	err := c.InsertDagRun(context.Background(), "run-1", testDagId,
		"2024-03-24T14:00:00.000000Z", "REGULAR")
	if err == nil {
		t.Error("Expected error while inserting duplicated RunId")
	}
}

func TestReadDagRunsLatestFirst(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	timestamps := []string{
		"2023-09-23T10:00:00.000000Z",
		"2023-09-23T14:00:00.000000Z",
		"2023-09-23T12:00:00.000000Z",
		"2023-09-24T08:00:00.000000Z",
	}
	for idx, ts := range timestamps {
		insertDagRun(t, c, "run-"+string(rune('a'+idx)), ts)
	}

	all, err := c.ReadDagRuns(ctx, testDagId, -1)
	if err != nil {
		t.Fatalf("Cannot read dag runs: %s", err)
	}
	if len(all) != len(timestamps) {
		t.Fatalf("Expected %d dag runs, got: %d", len(timestamps), len(all))
	}
	expectedOrder := []string{"run-d", "run-b", "run-c", "run-a"}
	for idx, dr := range all {
		if dr.RunId != expectedOrder[idx] {
			t.Errorf("Expected %s at position %d, got: %s", expectedOrder[idx],
				idx, dr.RunId)
		}
	}

	top2, err := c.ReadDagRuns(ctx, testDagId, 2)
	if err != nil {
		t.Fatalf("Cannot read top 2 dag runs: %s", err)
	}
	if len(top2) != 2 || top2[0].RunId != "run-d" {
		t.Errorf("Unexpected top 2 dag runs: %+v", top2)
	}

	other, _ := c.ReadDagRuns(ctx, "other_dag", -1)
	if len(other) != 0 {
		t.Errorf("Expected no runs for other DAG, got: %d", len(other))
	}
}

func TestUpdateDagRunStatus(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "run-1", "2024-03-24T12:00:00.000000Z")

	if err := c.UpdateDagRunStatus(ctx, "run-1", statusRunning); err != nil {
		t.Fatalf("Cannot update dag run status: %s", err)
	}
	dr, _ := c.ReadDagRun(ctx, "run-1")
	if dr.Status != statusRunning {
		t.Errorf("Expected status RUNNING, got: %s", dr.Status)
	}

	err := c.UpdateDagRunStatus(ctx, "missing", statusSuccess)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got: %v", err)
	}
}

func TestMarkUnfinishedRunsFailed(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "finished", "2024-03-24T10:00:00.000000Z")
	insertDagRun(t, c, "running", "2024-03-24T12:00:00.000000Z")
	insertDagRun(t, c, "scheduled", "2024-03-24T14:00:00.000000Z")

	mustNoErr(t, c.UpdateDagRunStatus(ctx, "finished", statusSuccess))
	mustNoErr(t, c.UpdateDagRunStatus(ctx, "running", statusRunning))
	mustNoErr(t, c.InsertDagRunTask(ctx, "finished", "a", statusSuccess))
	mustNoErr(t, c.InsertDagRunTask(ctx, "running", "a", statusSuccess))
	mustNoErr(t, c.InsertDagRunTask(ctx, "running", "b", statusRunning))
	mustNoErr(t, c.InsertDagRunTask(ctx, "running", "c", statusScheduled))

	notFinished, err := c.ReadDagRunsNotFinished(ctx)
	mustNoErr(t, err)
	if len(notFinished) != 2 || notFinished[0].RunId != "running" {
		t.Errorf("Expected 2 unfinished runs starting from 'running', got: %+v",
			notFinished)
	}

	updated, err := c.MarkUnfinishedRunsFailed(ctx, "scheduler restarted")
	mustNoErr(t, err)
	if updated != 2 {
		t.Errorf("Expected 2 updated dag runs, got: %d", updated)
	}

	agg, err := c.ReadDagRunsAggByStatus(ctx)
	mustNoErr(t, err)
	if agg[statusFailed] != 2 || agg[statusSuccess] != 1 {
		t.Errorf("Unexpected dag runs by status: %v", agg)
	}

	tasks, err := c.ReadDagRunTasks(ctx, "running")
	mustNoErr(t, err)
	for _, task := range tasks {
		switch task.TaskId {
		case "a":
			if task.Status != statusSuccess || task.Reason != nil {
				t.Errorf("Expected successful task untouched, got: %+v", task)
			}
		default:
			if task.Status != statusFailed || task.Reason == nil ||
				*task.Reason != "scheduler restarted" {
				t.Errorf("Expected task %s to be FAILED with reason, got: %+v",
					task.TaskId, task)
			}
		}
	}
}

func TestReadDagRunsWithTaskInfo(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "older", "2024-03-24T10:00:00.000000Z")
	insertDagRun(t, c, "newer", "2024-03-24T12:00:00.000000Z")
	mustNoErr(t, c.InsertDagRunTask(ctx, "newer", "a", statusSuccess))
	mustNoErr(t, c.InsertDagRunTask(ctx, "newer", "b", statusRunning))

	res, err := c.ReadDagRunsWithTaskInfo(ctx, 10)
	mustNoErr(t, err)
	if len(res) != 2 {
		t.Fatalf("Expected 2 dag runs, got: %d", len(res))
	}
	if res[0].DagRun.RunId != "newer" || res[0].TaskNum != 2 ||
		res[0].TaskCompletedNum != 1 {
		t.Errorf("Unexpected info for newer run: %+v", res[0])
	}
	if res[1].TaskNum != 0 || res[1].TaskCompletedNum != 0 {
		t.Errorf("Expected no tasks for older run, got: %+v", res[1])
	}
}

func insertDagRun(t *testing.T, c *Client, runId, triggerTs string) {
	t.Helper()
	err := c.InsertDagRun(context.Background(), runId, testDagId, triggerTs,
		"REGULAR")
	if err != nil {
		t.Fatalf("Error while inserting dag run %s: %s", runId, err)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
}
