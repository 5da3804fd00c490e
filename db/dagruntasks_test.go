package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDagRunTaskLifecycle(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "run-1", "2024-03-24T12:00:00.000000Z")

	require.NoError(t, c.InsertDagRunTask(ctx, "run-1", "start-load", statusScheduled))
	require.NoError(t, c.UpdateDagRunTask(ctx, "run-1", "start-load", statusRunning, nil, ""))

	running, err := c.RunningTasksNum(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, running)

	output := `{"jobId":42}`
	require.NoError(t, c.UpdateDagRunTask(ctx, "run-1", "start-load", statusSuccess, &output, ""))

	drt, err := c.ReadDagRunTask(ctx, "run-1", "start-load")
	require.NoError(t, err)
	require.Equal(t, statusSuccess, drt.Status)
	require.NotNil(t, drt.Output)
	require.Equal(t, output, *drt.Output)
	require.Nil(t, drt.Reason)
}

func TestDagRunTaskFailureReason(t *testing.T) {
	c := newClientForTesting(t)
	ctx := context.Background()
	insertDagRun(t, c, "run-1", "2024-03-24T12:00:00.000000Z")
	require.NoError(t, c.InsertDagRunTask(ctx, "run-1", "wait-for-load", statusScheduled))
	require.NoError(t, c.InsertDagRunTask(ctx, "run-1", "after", statusScheduled))

	require.NoError(t, c.UpdateDagRunTask(ctx, "run-1", "wait-for-load", statusFailed,
		nil, "retries exhausted"))
	require.NoError(t, c.UpdateDagRunTask(ctx, "run-1", "after", statusUpstreamFailed,
		nil, "skipped due to upstream failure of wait-for-load"))

	tasks, err := c.ReadDagRunTasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	byId := map[string]DagRunTask{}
	for _, task := range tasks {
		byId[task.TaskId] = task
	}
	require.Equal(t, "retries exhausted", *byId["wait-for-load"].Reason)
	require.Equal(t, statusUpstreamFailed, byId["after"].Status)
	require.Nil(t, byId["after"].Output)
}

func TestUpdateMissingDagRunTask(t *testing.T) {
	c := newClientForTesting(t)
	err := c.UpdateDagRunTask(context.Background(), "run-x", "task", statusSuccess, nil, "")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got: %v", err)
	}
	_, err = c.ReadDagRunTask(context.Background(), "run-x", "task")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got: %v", err)
	}
}
