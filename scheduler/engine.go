// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/dag/schedule"
	"github.com/meltinfra/bootstrap/db"
	"github.com/meltinfra/bootstrap/metrics"
	"github.com/meltinfra/bootstrap/notify"
	"github.com/meltinfra/bootstrap/timeutils"
	"github.com/rs/zerolog"
)

var ErrTaskPanicked = errors.New("task panicked")

// Engine executes DAG runs. Every task runs in its own goroutine which waits
// until all of its parents reach a terminal status. When all parents
// succeeded the task is executed, otherwise it's marked as UPSTREAM_FAILED
// without being executed. Every status change is persisted in the database.
type Engine struct {
	dbClient *db.Client
	notifier notify.Sender
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine creates new Engine. Notifier is used for failure alerts of tasks
// which do not have their own notifier; when nil, alerts are logged. Metrics
// might be nil.
func NewEngine(
	dbClient *db.Client, notifier notify.Sender, m *metrics.Metrics,
	logger *zerolog.Logger,
) *Engine {
	l := defaultLogger(logger)
	if notifier == nil {
		notifier = notify.NewLogsErr(&l)
	}
	return &Engine{
		dbClient: dbClient,
		notifier: notifier,
		metrics:  m,
		logger:   l,
	}
}

// Run registers new DAG run and executes it synchronously. Returned state
// holds final statuses and captured outputs of all tasks.
func (e *Engine) Run(
	ctx context.Context, d dag.Dag, info dag.RunInfo, event schedule.Event,
) (*dag.RunState, error) {
	state, err := e.Register(ctx, d, info, event)
	if err != nil {
		return nil, err
	}
	e.Execute(ctx, d, state)
	return state, nil
}

// Register inserts new DAG run and all of its tasks, in SCHEDULED status, into
// the database and returns initial state of the run.
func (e *Engine) Register(
	ctx context.Context, d dag.Dag, info dag.RunInfo, event schedule.Event,
) (*dag.RunState, error) {
	nodes := d.FlattenNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cannot register run of DAG %s: %w", d.Id,
			dag.ErrNoRoots)
	}
	taskIds := make([]string, len(nodes))
	for idx, ni := range nodes {
		taskIds[idx] = ni.Node.Task.Id()
	}
	triggerTs := timeutils.ToString(info.TriggerTs)
	iErr := e.dbClient.InsertDagRun(
		ctx, info.RunId, string(d.Id), triggerTs, event.String(),
	)
	if iErr != nil {
		return nil, fmt.Errorf("cannot insert DAG run %s: %w", info.RunId, iErr)
	}
	for _, taskId := range taskIds {
		tErr := e.dbClient.InsertDagRunTask(
			ctx, info.RunId, taskId, dag.TaskScheduled.String(),
		)
		if tErr != nil {
			e.updateRunStatus(context.WithoutCancel(ctx), e.logger, info.RunId,
				dag.RunFailed)
			return nil, fmt.Errorf("cannot insert task %s of DAG run %s: %w",
				taskId, info.RunId, tErr)
		}
	}
	e.logger.Info().Str("runId", info.RunId).Str("dagId", string(d.Id)).
		Str("event", event.String()).Int("tasks", len(taskIds)).
		Msg("Registered new DAG run")
	return dag.NewRunState(info, d.Consts, taskIds), nil
}

// Execute runs all tasks of registered DAG run and returns final run status.
// It returns when every task is in terminal status. When the context is
// cancelled, tasks which have not started yet are marked as failed.
func (e *Engine) Execute(ctx context.Context, d dag.Dag, state *dag.RunState) dag.RunStatus {
	start := time.Now()
	runId := state.Info.RunId
	dbCtx := context.WithoutCancel(ctx)
	logger := e.logger.With().Str("runId", runId).Str("dagId", string(d.Id)).
		Logger()

	e.updateRunStatus(dbCtx, logger, runId, dag.RunRunning)
	if e.metrics != nil {
		e.metrics.ActiveRuns.Inc()
		defer e.metrics.ActiveRuns.Dec()
	}

	nodes := d.FlattenNodes()
	done := make(map[string]chan struct{}, len(nodes))
	for _, ni := range nodes {
		done[ni.Node.Task.Id()] = make(chan struct{})
	}
	var sem chan struct{}
	if d.Attr.MaxParallelTasks > 0 {
		sem = make(chan struct{}, d.Attr.MaxParallelTasks)
	}

	var wg sync.WaitGroup
	for _, ni := range nodes {
		wg.Add(1)
		go func(ni dag.NodeInfo) {
			defer wg.Done()
			defer close(done[ni.Node.Task.Id()])
			e.runNode(ctx, dbCtx, logger, d, state, ni, done, sem)
		}(ni)
	}
	wg.Wait()

	final := state.Status()
	e.updateRunStatus(dbCtx, logger, runId, final)
	if e.metrics != nil {
		e.metrics.ObserveDagRun(string(d.Id), final.String(), time.Since(start))
	}
	logger.Info().Str("status", final.String()).
		Dur("duration", time.Since(start)).Msg("DAG run finished")
	return final
}

func (e *Engine) runNode(
	ctx, dbCtx context.Context, logger zerolog.Logger, d dag.Dag,
	state *dag.RunState, ni dag.NodeInfo, done map[string]chan struct{},
	sem chan struct{},
) {
	taskId := ni.Node.Task.Id()
	tlog := logger.With().Str("taskId", taskId).Logger()

	parents := make([]string, 0, len(ni.Parents))
	for _, p := range ni.Parents {
		parents = append(parents, p.Task.Id())
	}
	sort.Strings(parents)
	for _, parentId := range parents {
		select {
		case <-done[parentId]:
		case <-ctx.Done():
			e.finishTask(dbCtx, tlog, d, state, ni.Node, dag.TaskFailed, nil,
				fmt.Errorf("run cancelled before task started: %w", ctx.Err()), 0)
			return
		}
	}
	for _, parentId := range parents {
		ps, _ := state.TaskState(parentId)
		if !ps.Status.CanProceed() {
			reason := fmt.Sprintf("skipped due to upstream failure of %s", parentId)
			e.skipTask(dbCtx, tlog, d, state, taskId, reason)
			return
		}
	}

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			e.finishTask(dbCtx, tlog, d, state, ni.Node, dag.TaskFailed, nil,
				fmt.Errorf("run cancelled before task started: %w", ctx.Err()), 0)
			return
		}
	}
	if ctx.Err() != nil {
		e.finishTask(dbCtx, tlog, d, state, ni.Node, dag.TaskFailed, nil,
			fmt.Errorf("run cancelled before task started: %w", ctx.Err()), 0)
		return
	}

	if sErr := state.SetStatus(taskId, dag.TaskRunning, ""); sErr != nil {
		tlog.Error().Err(sErr).Msg("Cannot mark task as running")
		return
	}
	e.persistTask(dbCtx, tlog, state.Info.RunId, taskId, dag.TaskRunning, nil, "")
	tlog.Info().Msg("Task started")

	start := time.Now()
	taskCtx, cancel := ctx, context.CancelFunc(func() {})
	if ni.Node.Config.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, ni.Node.Config.Timeout)
	}
	out, err := safeExecute(ni.Node.Task, dag.NewTaskContext(taskCtx, tlog, state))
	cancel()

	if err != nil {
		e.finishTask(dbCtx, tlog, d, state, ni.Node, dag.TaskFailed, nil, err,
			time.Since(start))
		return
	}
	e.finishTask(dbCtx, tlog, d, state, ni.Node, dag.TaskSuccess, &out, nil,
		time.Since(start))
}

// Output is committed before the status, so children which observe the
// success of this task can read its output.
func (e *Engine) finishTask(
	dbCtx context.Context, logger zerolog.Logger, d dag.Dag,
	state *dag.RunState, node *dag.Node, status dag.TaskStatus, output *string,
	taskErr error, duration time.Duration,
) {
	taskId := node.Task.Id()
	if output != nil {
		if oErr := state.SetOutput(taskId, *output); oErr != nil {
			logger.Error().Err(oErr).Msg("Cannot capture task output")
			status, taskErr, output = dag.TaskFailed, oErr, nil
		}
	}
	reason := ""
	if taskErr != nil {
		reason = taskErr.Error()
	}
	if sErr := state.SetStatus(taskId, status, reason); sErr != nil {
		logger.Error().Err(sErr).Msg("Cannot update task status")
		return
	}
	e.persistTask(dbCtx, logger, state.Info.RunId, taskId, status, output, reason)
	if e.metrics != nil {
		e.metrics.ObserveTask(string(d.Id), taskId, status.String(), duration)
	}
	if status == dag.TaskSuccess {
		logger.Info().Dur("duration", duration).Msg("Task succeeded")
		return
	}
	logger.Error().Err(taskErr).Dur("duration", duration).Msg("Task failed")
	e.alert(dbCtx, logger, d, state, node, taskErr)
}

func (e *Engine) skipTask(
	dbCtx context.Context, logger zerolog.Logger, d dag.Dag,
	state *dag.RunState, taskId, reason string,
) {
	if sErr := state.SetStatus(taskId, dag.TaskUpstreamFailed, reason); sErr != nil {
		logger.Error().Err(sErr).Msg("Cannot mark task as upstream failed")
		return
	}
	e.persistTask(dbCtx, logger, state.Info.RunId, taskId,
		dag.TaskUpstreamFailed, nil, reason)
	if e.metrics != nil {
		e.metrics.ObserveTask(string(d.Id), taskId,
			dag.TaskUpstreamFailed.String(), 0)
	}
	logger.Warn().Str("reason", reason).Msg("Task skipped")
}

func (e *Engine) alert(
	ctx context.Context, logger zerolog.Logger, d dag.Dag,
	state *dag.RunState, node *dag.Node, taskErr error,
) {
	if !node.Config.SendAlertOnFailure {
		return
	}
	sender := node.Config.Notifier
	if sender == nil {
		sender = e.notifier
	}
	tmpl := node.Config.AlertOnFailureTemplate
	if tmpl == nil {
		tmpl = notify.DefaultFailureTemplate()
	}
	taskId := node.Task.Id()
	msg := notify.MsgData{
		DagId:        string(d.Id),
		RunId:        state.Info.RunId,
		ExecTs:       timeutils.ToString(state.Info.TriggerTs),
		TaskId:       &taskId,
		TaskRunError: taskErr,
	}
	if err := sender.Send(ctx, tmpl, msg); err != nil {
		logger.Error().Err(err).Msg("Cannot send failure notification")
	}
}

func (e *Engine) persistTask(
	ctx context.Context, logger zerolog.Logger, runId, taskId string,
	status dag.TaskStatus, output *string, reason string,
) {
	err := e.dbClient.UpdateDagRunTask(
		ctx, runId, taskId, status.String(), output, reason,
	)
	if err != nil {
		logger.Error().Err(err).Str("status", status.String()).
			Msg("Cannot persist task status")
	}
}

func (e *Engine) updateRunStatus(
	ctx context.Context, logger zerolog.Logger, runId string,
	status dag.RunStatus,
) {
	if err := e.dbClient.UpdateDagRunStatus(ctx, runId, status.String()); err != nil {
		logger.Error().Err(err).Str("status", status.String()).
			Msg("Cannot persist DAG run status")
	}
}

func safeExecute(task dag.Task, tc dag.TaskContext) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task.Execute(tc)
}
