// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package dag

import (
	"errors"
	"fmt"
	"time"

	"github.com/meltinfra/bootstrap/ds"
	"github.com/meltinfra/bootstrap/pathexpr"
)

var (
	ErrOutputAlreadySet  = errors.New("task output already set")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// RunStatus enumerates possible DAG run states.
type RunStatus int

const (
	RunScheduled RunStatus = iota
	RunRunning
	RunSuccess
	RunFailed
)

// String serialize RunStatus.
func (s RunStatus) String() string {
	return [...]string{
		"SCHEDULED",
		"RUNNING",
		"SUCCESS",
		"FAILED",
	}[s]
}

// IsTerminal is true for finished DAG runs.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed
}

// ParseRunStatus parses run status based on given string. If given string does
// not match any run status, then non-nil error is returned. Statuses are
// case-sensitive.
func ParseRunStatus(s string) (RunStatus, error) {
	states := map[string]RunStatus{
		"SCHEDULED": RunScheduled,
		"RUNNING":   RunRunning,
		"SUCCESS":   RunSuccess,
		"FAILED":    RunFailed,
	}
	if status, ok := states[s]; ok {
		return status, nil
	}
	return 0, fmt.Errorf("invalid RunStatus: %s", s)
}

// RunInfo identifies single DAG run.
type RunInfo struct {
	RunId     string    `json:"runId"`
	DagId     Id        `json:"dagId"`
	TriggerTs time.Time `json:"triggerTs"`
}

// TaskState is the state of a task within DAG run. Reason describes why task
// failed or was skipped.
type TaskState struct {
	Status   TaskStatus
	Reason   string
	UpdateTs time.Time
}

// RunState holds state of tasks and their captured outputs within single DAG
// run. It's safe for concurrent use. Output of a task can be set only once and
// task in terminal status cannot change its status anymore.
type RunState struct {
	Info RunInfo

	consts  map[string]string
	tasks   *ds.AsyncMap[string, TaskState]
	outputs *ds.AsyncMap[string, string]
}

// NewRunState creates state for new DAG run. All given tasks starts as
// scheduled.
func NewRunState(info RunInfo, consts map[string]string, taskIds []string) *RunState {
	c := make(map[string]string, len(consts))
	for k, v := range consts {
		c[k] = v
	}
	rs := &RunState{
		Info:    info,
		consts:  c,
		tasks:   ds.NewAsyncMap[string, TaskState](),
		outputs: ds.NewAsyncMap[string, string](),
	}
	now := time.Now()
	for _, id := range taskIds {
		rs.tasks.Add(id, TaskState{Status: TaskScheduled, UpdateTs: now})
	}
	return rs
}

// SetStatus updates task status. Tasks in terminal status cannot be updated.
func (rs *RunState) SetStatus(taskId string, status TaskStatus, reason string) error {
	return rs.tasks.Update(taskId, func(current TaskState, exists bool) (TaskState, error) {
		if exists && current.Status.IsTerminal() {
			return current, fmt.Errorf("%w: task %s is already %s, cannot set %s",
				ErrInvalidTransition, taskId, current.Status, status)
		}
		return TaskState{Status: status, Reason: reason, UpdateTs: time.Now()}, nil
	})
}

// TaskState returns current state of given task.
func (rs *RunState) TaskState(taskId string) (TaskState, bool) {
	return rs.tasks.Get(taskId)
}

// Tasks returns snapshot of all task states.
func (rs *RunState) Tasks() map[string]TaskState {
	return rs.tasks.Snapshot()
}

// SetOutput captures task output. It can be done only once per task.
func (rs *RunState) SetOutput(taskId, output string) error {
	if !rs.outputs.AddIfAbsent(taskId, output) {
		return fmt.Errorf("%w: %s", ErrOutputAlreadySet, taskId)
	}
	return nil
}

// Output returns captured output of given task.
func (rs *RunState) Output(taskId string) (string, bool) {
	return rs.outputs.Get(taskId)
}

// Outputs returns snapshot of all captured outputs.
func (rs *RunState) Outputs() map[string]string {
	return rs.outputs.Snapshot()
}

// Status returns DAG run status derived from task states. Run is finished
// when all tasks are in terminal status; it's failed when any task is not
// successful.
func (rs *RunState) Status() RunStatus {
	tasks := rs.tasks.Snapshot()
	allTerminal, anyFailed, anyStarted := true, false, false
	for _, ts := range tasks {
		if !ts.Status.IsTerminal() {
			allTerminal = false
		}
		if ts.Status == TaskFailed || ts.Status == TaskUpstreamFailed {
			anyFailed = true
		}
		if ts.Status != TaskScheduled {
			anyStarted = true
		}
	}
	switch {
	case allTerminal && anyFailed:
		return RunFailed
	case allTerminal:
		return RunSuccess
	case anyStarted:
		return RunRunning
	}
	return RunScheduled
}

// Resolve returns value of given parameter within the DAG run.
func (rs *RunState) Resolve(p Param) (string, error) {
	switch p.Kind {
	case LiteralParam:
		return p.Value, nil
	case ConstParam:
		v, exists := rs.consts[p.Value]
		if !exists {
			return "", fmt.Errorf("%w: %s", ErrUnknownConst, p.Value)
		}
		return v, nil
	case OutputParam:
		out, exists := rs.Output(p.Value)
		if !exists {
			return "", fmt.Errorf("%w: %s", ErrOutputNotAvailable, p.Value)
		}
		if len(p.Path) == 0 {
			return out, nil
		}
		doc, err := pathexpr.Decode([]byte(out))
		if err != nil {
			return "", fmt.Errorf("output of %s is not JSON: %w", p.Value, err)
		}
		res := pathexpr.Eval(doc, p.Path)
		if !res.Found {
			return "", fmt.Errorf("%w: %s: nothing at %s", ErrOutputNotAvailable,
				p.Value, p.Path)
		}
		return pathexpr.Render(res.Value)
	}
	return "", fmt.Errorf("%w: unknown kind %d", ErrInvalidParam, p.Kind)
}
