package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meltinfra/bootstrap/api"
	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/dag/schedule"
	"github.com/meltinfra/bootstrap/db"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDagId = "melt-bootstrap"

func TestNewRejectsInvalidDag(t *testing.T) {
	root := dag.NewNode(funcTask{id: "a", params: []dag.Param{dag.Const("missing")}})
	d := dag.New(testDagId).AddRoot(root).Done()
	_, err := New(d, newTestDb(t), nil, nil, DefaultConfig, testLogger())
	require.ErrorIs(t, err, dag.ErrInvalidParam)
}

func TestRunOnce(t *testing.T) {
	root := dag.NewNode(funcTask{id: "hello", params: []dag.Param{dag.Const("name")},
		fn: func(tc dag.TaskContext) (string, error) {
			return tc.Resolve(dag.Const("name"))
		}})
	d := dag.New(testDagId).AddRoot(root).
		AddConsts(map[string]string{"name": "melt"}).Done()
	dbClient := newTestDb(t)
	sched, err := New(d, dbClient, nil, nil, DefaultConfig, testLogger())
	require.NoError(t, err)

	state, status, runErr := sched.RunOnce(context.Background())
	require.NoError(t, runErr)
	assert.Equal(t, dag.RunSuccess, status)
	out, _ := state.Output("hello")
	assert.Equal(t, "melt", out)
	assert.Empty(t, sched.ActiveRunId())

	events, sErr := dbClient.ReadDagSchedules(context.Background(), testDagId)
	require.NoError(t, sErr)
	require.Len(t, events, 1)
	assert.Equal(t, "MANUALLY_TRIGGERED", events[0].Event)
}

func TestFireSkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	d := blockingDag(release)
	dbClient := newTestDb(t)
	sched, err := New(d, dbClient, nil, nil, DefaultConfig, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	firstRunId, fErr := sched.Fire(ctx, time.Now(), schedule.Regular)
	require.NoError(t, fErr)
	require.Equal(t, firstRunId, sched.ActiveRunId())

	_, overlapErr := sched.Fire(ctx, time.Now(), schedule.Regular)
	require.ErrorIs(t, overlapErr, ErrRunInProgress)
	_, manualErr := sched.Fire(ctx, time.Now(), schedule.ManuallyTriggered)
	require.ErrorIs(t, manualErr, ErrRunInProgress)
	assert.Equal(t, 2.0, testutil.ToFloat64(
		sched.Metrics().SkippedOverlaps.WithLabelValues(testDagId)))

	close(release)
	require.Eventually(t, func() bool { return sched.ActiveRunId() == "" },
		2*time.Second, 5*time.Millisecond)

	dr, rErr := dbClient.ReadDagRun(ctx, firstRunId)
	require.NoError(t, rErr)
	assert.Equal(t, "SUCCESS", dr.Status)
	runs, _ := dbClient.ReadDagRuns(ctx, testDagId, -1)
	assert.Len(t, runs, 1)

	events, sErr := dbClient.ReadDagSchedules(ctx, testDagId)
	require.NoError(t, sErr)
	eventCounts := map[string]int{}
	for _, e := range events {
		eventCounts[e.Event]++
	}
	assert.Equal(t, map[string]int{
		"REGULAR":          1,
		"SKIPPED_OVERLAP":  1,
		"REJECTED_OVERLAP": 1,
	}, eventCounts)

	secondRunId, sfErr := sched.Fire(ctx, time.Now(), schedule.Regular)
	require.NoError(t, sfErr)
	assert.NotEqual(t, firstRunId, secondRunId)
	require.Eventually(t, func() bool { return sched.ActiveRunId() == "" },
		2*time.Second, 5*time.Millisecond)
}

func TestSchedulerHttpApi(t *testing.T) {
	release := make(chan struct{})
	d := blockingDag(release)
	sched, err := New(d, newTestDb(t), nil, nil, DefaultConfig, testLogger())
	require.NoError(t, err)
	server := httptest.NewServer(sched.Handler())
	defer server.Close()
	client := NewClient(server.URL, nil, testLogger(), DefaultClientConfig)

	state, sErr := client.GetState()
	require.NoError(t, sErr)
	assert.Equal(t, StateStarted.String(), state.Status)
	assert.Equal(t, testDagId, state.DagId)
	assert.Nil(t, state.ActiveRunId)

	out, tErr := client.TriggerDagRun(api.DagRunTriggerInput{})
	require.NoError(t, tErr)
	require.NotEmpty(t, out.RunId)

	state, _ = client.GetState()
	require.NotNil(t, state.ActiveRunId)
	assert.Equal(t, out.RunId, *state.ActiveRunId)

	_, conflictErr := client.TriggerDagRun(api.DagRunTriggerInput{DagId: testDagId})
	assert.True(t, errors.Is(conflictErr, ErrRunInProgress))

	close(release)
	require.Eventually(t, func() bool {
		details, dErr := client.DagRunDetails(out.RunId)
		return dErr == nil && details.Status == "SUCCESS"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sched.ActiveRunId() == "" },
		2*time.Second, 5*time.Millisecond)

	details, dErr := client.DagRunDetails(out.RunId)
	require.NoError(t, dErr)
	assert.Equal(t, "MANUALLY_TRIGGERED", details.TriggerEvent)
	require.Len(t, details.Tasks, 1)
	assert.Equal(t, "wait", details.Tasks[0].TaskId)
	require.NotNil(t, details.Tasks[0].Output)
	assert.Equal(t, "released", *details.Tasks[0].Output)

	latest, lErr := client.LatestDagRuns(5)
	require.NoError(t, lErr)
	require.Len(t, latest, 1)
	assert.Equal(t, out.RunId, latest[0].RunId)
	assert.Equal(t, 1, latest[0].TaskNum)
	assert.Equal(t, 1, latest[0].TaskCompletedNum)

	_, missingErr := client.DagRunDetails("no-such-run")
	assert.Error(t, missingErr)

	badRequests := []struct {
		method string
		path   string
		body   string
		code   int
	}{
		{http.MethodGet, "/dag/run/latest/0", "", http.StatusBadRequest},
		{http.MethodGet, "/dag/run/latest/abc", "", http.StatusBadRequest},
		{http.MethodPost, "/dag/run/trigger", `{"dagId":"other"}`, http.StatusBadRequest},
		{http.MethodPost, "/dag/run/trigger", `{"dagId":`, http.StatusBadRequest},
		{http.MethodGet, "/dag/run/no-such-run", "", http.StatusNotFound},
	}
	for _, br := range badRequests {
		req, _ := http.NewRequest(br.method, server.URL+br.path,
			strings.NewReader(br.body))
		resp, rErr := http.DefaultClient.Do(req)
		require.NoError(t, rErr)
		resp.Body.Close()
		assert.Equal(t, br.code, resp.StatusCode, br.method+" "+br.path)
	}

	resp, mErr := http.Get(server.URL + "/metrics")
	require.NoError(t, mErr)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body),
		`melt_bootstrap_skipped_overlaps_total{dag="melt-bootstrap"} 1`)
	assert.Contains(t, string(body),
		`melt_bootstrap_dag_runs_total{dag="melt-bootstrap",status="SUCCESS"} 1`)
}

func TestSchedulerStart(t *testing.T) {
	release := make(chan struct{})
	fixed, fErr := schedule.NewFixed(time.Now(), 20*time.Millisecond)
	require.NoError(t, fErr)
	d := blockingDag(release)
	d.Schedule = fixed

	dbClient := newTestDb(t)
	ctx := context.Background()
	require.NoError(t, dbClient.InsertDagRun(ctx, "old-run", testDagId,
		"2024-01-01T00:00:00.000000Z", "REGULAR"))
	require.NoError(t, dbClient.UpdateDagRunStatus(ctx, "old-run", "RUNNING"))

	sched, err := New(d, dbClient, nil, nil, DefaultConfig, testLogger())
	require.NoError(t, err)

	startCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan error)
	go func() {
		stopped <- sched.Start(startCtx)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(
			sched.Metrics().SkippedOverlaps.WithLabelValues(testDagId)) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	oldRun, rErr := dbClient.ReadDagRun(ctx, "old-run")
	require.NoError(t, rErr)
	assert.Equal(t, "FAILED", oldRun.Status)

	cancel()
	close(release)
	select {
	case startErr := <-stopped:
		require.NoError(t, startErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Scheduler did not stop after context cancellation")
	}
	sched.Lock()
	finalState := sched.state
	sched.Unlock()
	assert.Equal(t, StateStopped, finalState)

	runs, _ := dbClient.ReadDagRuns(ctx, testDagId, -1)
	for _, run := range runs {
		assert.Contains(t, []string{"SUCCESS", "FAILED"}, run.Status, run.RunId)
	}
}

func TestSchedulerStartWithoutSchedule(t *testing.T) {
	d := dag.New(testDagId).AddRoot(dag.NewNode(funcTask{id: "a"})).Done()
	sched, err := New(d, newTestDb(t), nil, nil, DefaultConfig, testLogger())
	require.NoError(t, err)
	require.ErrorIs(t, sched.Start(context.Background()), ErrNoSchedule)
}

// DAG with single task which finishes when release channel is closed.
func blockingDag(release <-chan struct{}) dag.Dag {
	wait := funcTask{id: "wait", fn: func(tc dag.TaskContext) (string, error) {
		select {
		case <-release:
			return "released", nil
		case <-tc.Context.Done():
			return "", tc.Context.Err()
		}
	}}
	root := dag.NewNode(wait, dag.WithTaskNotSendAlertsOnFailures)
	return dag.New(testDagId).AddRoot(root).Done()
}

type funcTask struct {
	id     string
	params []dag.Param
	fn     func(dag.TaskContext) (string, error)
}

func (ft funcTask) Id() string          { return ft.id }
func (ft funcTask) Params() []dag.Param { return ft.params }

func (ft funcTask) Execute(tc dag.TaskContext) (string, error) {
	if ft.fn == nil {
		return ft.id, nil
	}
	return ft.fn(tc)
}

func newTestDb(t *testing.T) *db.Client {
	t.Helper()
	c, err := db.NewSqliteInMemoryClient(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
