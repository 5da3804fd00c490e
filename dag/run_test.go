package dag

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meltinfra/bootstrap/pathexpr"
	"github.com/stretchr/testify/require"
)

func newTestRunState(taskIds ...string) *RunState {
	info := RunInfo{RunId: "run-1", DagId: "melt", TriggerTs: time.Now()}
	return NewRunState(info, map[string]string{"workspaceName": "melt"}, taskIds)
}

func TestRunStateSetOutputOnce(t *testing.T) {
	rs := newTestRunState("a")
	require.NoError(t, rs.SetOutput("a", "first"))
	err := rs.SetOutput("a", "second")
	require.ErrorIs(t, err, ErrOutputAlreadySet)

	out, exists := rs.Output("a")
	require.True(t, exists)
	require.Equal(t, "first", out)
}

func TestRunStateSetOutputConcurrent(t *testing.T) {
	rs := newTestRunState("a")
	const writers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rs.SetOutput("a", "x") == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
}

func TestRunStateTerminalStatus(t *testing.T) {
	rs := newTestRunState("a")
	require.NoError(t, rs.SetStatus("a", TaskRunning, ""))
	require.NoError(t, rs.SetStatus("a", TaskFailed, "boom"))

	err := rs.SetStatus("a", TaskSuccess, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	state, _ := rs.TaskState("a")
	require.Equal(t, TaskFailed, state.Status)
	require.Equal(t, "boom", state.Reason)
}

func TestRunStateStatus(t *testing.T) {
	rs := newTestRunState("a", "b")
	require.Equal(t, RunScheduled, rs.Status())

	require.NoError(t, rs.SetStatus("a", TaskRunning, ""))
	require.Equal(t, RunRunning, rs.Status())

	require.NoError(t, rs.SetStatus("a", TaskSuccess, ""))
	require.Equal(t, RunRunning, rs.Status())

	require.NoError(t, rs.SetStatus("b", TaskUpstreamFailed, "skipped"))
	require.Equal(t, RunFailed, rs.Status())
	require.True(t, rs.Status().IsTerminal())

	ok := newTestRunState("a")
	require.NoError(t, ok.SetStatus("a", TaskSuccess, ""))
	require.Equal(t, RunSuccess, ok.Status())
}

func TestRunStateResolve(t *testing.T) {
	rs := newTestRunState("start-load")
	require.NoError(t, rs.SetOutput("start-load", `{"jobId": 42, "status": "running"}`))

	data := []struct {
		param    Param
		expected string
		err      error
	}{
		{Literal("sync"), "sync", nil},
		{Const("workspaceName"), "melt", nil},
		{Const("missing"), "", ErrUnknownConst},
		{OutputOf("start-load"), `{"jobId": 42, "status": "running"}`, nil},
		{OutputOfPath("start-load", pathexpr.New(pathexpr.Key("jobId"))), "42", nil},
		{OutputOfPath("start-load", pathexpr.New(pathexpr.Key("status"))), "running", nil},
		{OutputOfPath("start-load", pathexpr.New(pathexpr.Key("nope"))), "", ErrOutputNotAvailable},
		{OutputOf("wait-for-load"), "", ErrOutputNotAvailable},
	}

	for _, d := range data {
		value, err := rs.Resolve(d.param)
		if d.err != nil {
			if !errors.Is(err, d.err) {
				t.Errorf("For %s expected error %v, got: %v", d.param, d.err, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("For %s unexpected error: %s", d.param, err)
			continue
		}
		if value != d.expected {
			t.Errorf("For %s expected %q, got %q", d.param, d.expected, value)
		}
	}
}

func TestParseRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunScheduled, RunRunning, RunSuccess, RunFailed} {
		parsed, err := ParseRunStatus(s.String())
		if err != nil || parsed != s {
			t.Errorf("Expected %s, got %s (err: %v)", s, parsed, err)
		}
	}
	if _, err := ParseRunStatus("DONE"); err == nil {
		t.Error("Expected error for unknown run status")
	}
}
