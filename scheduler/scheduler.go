// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

/*
Package scheduler runs the bootstrap DAG.

Scheduler fires DAG runs on the DAG schedule and on manual triggers. At most
one DAG run is active at a time: a firing which happens while the previous run
is still active is skipped and recorded in the schedules table. Engine executes
single DAG run, tasks run concurrently as soon as all of their parents
succeeded.

Scheduler also exposes HTTP API (see api package) for reading its state, DAG
runs history, triggering new runs and Prometheus metrics.
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meltinfra/bootstrap/api"
	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/dag/schedule"
	"github.com/meltinfra/bootstrap/db"
	"github.com/meltinfra/bootstrap/ds"
	"github.com/meltinfra/bootstrap/metrics"
	"github.com/meltinfra/bootstrap/notify"
	"github.com/meltinfra/bootstrap/timeutils"
	"github.com/rs/zerolog"
)

var (
	ErrRunInProgress = errors.New("previous DAG run is still in progress")
	ErrNoSchedule    = errors.New("DAG has no schedule")
)

const abandonedRunReason = "abandoned by previous scheduler process"

// Scheduler is the title object of this package, it connects all other
// components together. There should be single instance of a scheduler for the
// DAG.
type Scheduler struct {
	sync.Mutex
	dag      dag.Dag
	dbClient *db.Client
	engine   *Engine
	metrics  *metrics.Metrics
	config   Config
	logger   zerolog.Logger
	finished *ds.LruCache[string, api.DagRunDetails]

	state        State
	activeRunId  string
	nextSchedule *time.Time
	runsCtx      context.Context
	runs         sync.WaitGroup
}

// New returns new instance of Scheduler for given DAG. DAG is validated
// upfront. Notifier is used for task failure alerts, when nil alerts are
// logged. Metrics might be nil, in this case new Metrics are created.
func New(
	d dag.Dag, dbClient *db.Client, notifier notify.Sender, m *metrics.Metrics,
	config Config, logger *zerolog.Logger,
) (*Scheduler, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid DAG %s: %w", d.Id, err)
	}
	if dbClient == nil {
		return nil, errors.New("scheduler requires database client")
	}
	if m == nil {
		m = metrics.New()
	}
	l := defaultLogger(logger)
	config = config.withDefaults()
	return &Scheduler{
		dag:      d,
		dbClient: dbClient,
		engine:   NewEngine(dbClient, notifier, m, &l),
		metrics:  m,
		config:   config,
		logger:   l,
		finished: ds.NewLruCache[string, api.DagRunDetails](config.FinishedRunCacheLen),
		state:    StateStarted,
		runsCtx:  context.Background(),
	}, nil
}

// Start marks DAG runs left unfinished by previous process as failed and then
// fires DAG runs according to the DAG schedule until the context is
// cancelled. Missed firings are not caught up. After cancellation Start waits
// (up to ShutdownTimeout) for the active DAG run.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.dag.Schedule == nil {
		return ErrNoSchedule
	}
	startupCtx, cancel := context.WithTimeout(ctx, s.config.StartupContextTimeout)
	n, err := s.dbClient.MarkUnfinishedRunsFailed(startupCtx, abandonedRunReason)
	cancel()
	if err != nil {
		return fmt.Errorf("cannot mark unfinished DAG runs as failed: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int64("runs", n).
			Msg("Marked DAG runs left unfinished by previous process as failed")
		s.recordEvent(ctx, schedule.Abandoned, nil, s.dag.Schedule.Next(time.Now(), nil))
	}

	s.Lock()
	s.state = StateRunning
	s.runsCtx = ctx
	s.Unlock()
	s.logger.Info().Str("dagId", string(s.dag.Id)).
		Str("schedule", s.dag.Schedule.String()).Msg("Scheduler started")

	s.watch(ctx)

	s.setState(StateStopping)
	s.logger.Info().Msg("Scheduler is stopping, waiting for the active DAG run")
	if !s.waitForRuns(s.config.ShutdownTimeout) {
		s.logger.Warn().Dur("timeout", s.config.ShutdownTimeout).
			Msg("Active DAG run did not finish before shutdown timeout")
	}
	s.setState(StateStopped)
	return nil
}

func (s *Scheduler) watch(ctx context.Context) {
	for {
		next := s.dag.Schedule.Next(time.Now(), nil)
		if next.IsZero() {
			s.logger.Warn().Msg("DAG schedule has no further firings")
			s.setNextSchedule(nil)
			<-ctx.Done()
			return
		}
		s.setNextSchedule(&next)
		s.logger.Debug().Time("nextSchedule", next).Msg("Waiting for next firing")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.Fire(ctx, next, schedule.Regular); err != nil {
			s.logger.Warn().Err(err).Time("schedule", next).
				Msg("Scheduled firing did not start new DAG run")
		}
	}
}

// Fire starts new DAG run in the background and returns its identifier. When
// previous DAG run is still active, no run is started and ErrRunInProgress is
// returned. Event says whether it's a regular firing or a manual trigger.
func (s *Scheduler) Fire(
	ctx context.Context, triggerTs time.Time, event schedule.Event,
) (string, error) {
	state, err := s.begin(ctx, triggerTs, event)
	if err != nil {
		return "", err
	}
	s.Lock()
	runsCtx := s.runsCtx
	s.Unlock()
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.endRun(state)
		s.engine.Execute(runsCtx, s.dag, state)
	}()
	return state.Info.RunId, nil
}

// RunOnce starts new DAG run and waits for its completion. It's the same as
// manual trigger, but synchronous.
func (s *Scheduler) RunOnce(ctx context.Context) (*dag.RunState, dag.RunStatus, error) {
	state, err := s.begin(ctx, time.Now(), schedule.ManuallyTriggered)
	if err != nil {
		return nil, dag.RunFailed, err
	}
	defer s.endRun(state)
	status := s.engine.Execute(ctx, s.dag, state)
	return state, status, nil
}

// Handler returns HTTP handler with Scheduler API endpoints.
func (s *Scheduler) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerEndpoints(mux)
	return mux
}

// Metrics returns Scheduler metrics.
func (s *Scheduler) Metrics() *metrics.Metrics {
	return s.metrics
}

// ActiveRunId returns identifier of DAG run in progress or empty string.
func (s *Scheduler) ActiveRunId() string {
	s.Lock()
	defer s.Unlock()
	return s.activeRunId
}

func (s *Scheduler) begin(
	ctx context.Context, triggerTs time.Time, event schedule.Event,
) (*dag.RunState, error) {
	s.Lock()
	if s.activeRunId != "" {
		active := s.activeRunId
		next := s.nextSchedule
		s.Unlock()
		s.skip(ctx, triggerTs, event, active, next)
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, active)
	}
	runId := uuid.NewString()
	s.activeRunId = runId
	next := s.nextSchedule
	s.Unlock()

	info := dag.RunInfo{
		RunId:     runId,
		DagId:     s.dag.Id,
		TriggerTs: triggerTs,
	}
	state, err := s.engine.Register(ctx, s.dag, info, event)
	if err != nil {
		s.clearActive(runId)
		return nil, err
	}
	s.recordEvent(ctx, event, &triggerTs, s.nextAfter(triggerTs, event, next))
	return state, nil
}

func (s *Scheduler) skip(
	ctx context.Context, triggerTs time.Time, event schedule.Event,
	activeRunId string, next *time.Time,
) {
	skipEvent := schedule.SkippedOverlap
	if event == schedule.ManuallyTriggered {
		skipEvent = schedule.RejectedOverlap
	}
	s.logger.Warn().Str("activeRunId", activeRunId).
		Time("triggerTs", triggerTs).Str("event", skipEvent.String()).
		Msg("Previous DAG run is still active, firing is skipped")
	s.metrics.SkippedOverlaps.WithLabelValues(string(s.dag.Id)).Inc()
	s.recordEvent(ctx, skipEvent, &triggerTs, s.nextAfter(triggerTs, event, next))
}

// Next schedule recorded together with a firing. Manual triggers do not move
// the schedule.
func (s *Scheduler) nextAfter(
	triggerTs time.Time, event schedule.Event, next *time.Time,
) time.Time {
	if event == schedule.Regular && s.dag.Schedule != nil {
		return s.dag.Schedule.Next(triggerTs, nil)
	}
	if next != nil {
		return *next
	}
	return time.Time{}
}

func (s *Scheduler) endRun(state *dag.RunState) {
	s.clearActive(state.Info.RunId)
	details, err := s.readDagRunDetails(context.Background(), state.Info.RunId)
	if err != nil {
		s.logger.Error().Err(err).Str("runId", state.Info.RunId).
			Msg("Cannot read details of finished DAG run")
		return
	}
	s.finished.Put(state.Info.RunId, details)
}

func (s *Scheduler) clearActive(runId string) {
	s.Lock()
	defer s.Unlock()
	if s.activeRunId == runId {
		s.activeRunId = ""
	}
}

func (s *Scheduler) recordEvent(
	ctx context.Context, event schedule.Event, scheduleTs *time.Time,
	next time.Time,
) {
	var schedStr *string
	if scheduleTs != nil {
		tmp := timeutils.ToString(*scheduleTs)
		schedStr = &tmp
	}
	nextStr := ""
	if !next.IsZero() {
		nextStr = timeutils.ToString(next)
	}
	err := s.dbClient.InsertDagSchedule(
		context.WithoutCancel(ctx), string(s.dag.Id), event.String(), nextStr,
		schedStr,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event.String()).
			Msg("Cannot record schedule event")
	}
}

func (s *Scheduler) waitForRuns(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Scheduler) setState(state State) {
	s.Lock()
	defer s.Unlock()
	s.state = state
}

func (s *Scheduler) setNextSchedule(next *time.Time) {
	s.Lock()
	defer s.Unlock()
	s.nextSchedule = next
}
