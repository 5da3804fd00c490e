// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meltinfra/bootstrap/api"
	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/dag/schedule"
	"github.com/meltinfra/bootstrap/db"
	"github.com/meltinfra/bootstrap/timeutils"
	"github.com/meltinfra/bootstrap/version"
)

// Register HTTP server endpoints for the Scheduler.
func (s *Scheduler) registerEndpoints(mux *http.ServeMux) {
	r := api.Routes()
	rp := func(e api.EndpointID) string {
		return r[e].RoutePattern
	}

	// /state
	mux.HandleFunc(rp(api.EndpointState), s.currentState)

	// /dag/run/*
	mux.HandleFunc(rp(api.EndpointDagRunLatest), s.dagRunLatestHandler)
	mux.HandleFunc(rp(api.EndpointDagRunDetails), s.dagRunDetailsHandler)
	mux.HandleFunc(rp(api.EndpointDagRunTrigger), s.triggerDagRunHandler)

	// /metrics
	mux.Handle(rp(api.EndpointMetrics), s.metrics.Handler())
}

// HTTP handler for getting the current Scheduler State.
func (s *Scheduler) currentState(w http.ResponseWriter, _ *http.Request) {
	s.Lock()
	state := api.State{
		Status:  s.state.String(),
		Version: version.Version,
		DagId:   string(s.dag.Id),
	}
	if s.dag.Schedule != nil {
		state.Schedule = s.dag.Schedule.String()
	}
	if s.nextSchedule != nil {
		next := timeutils.ToString(*s.nextSchedule)
		state.NextSchedule = &next
	}
	if s.activeRunId != "" {
		active := s.activeRunId
		state.ActiveRunId = &active
	}
	s.Unlock()

	if err := encode(w, http.StatusOK, state); err != nil {
		s.logger.Error().Err(err).Msg("Cannot encode scheduler state")
	}
}

// HTTP handler for listing n latest DAG runs.
func (s *Scheduler) dagRunLatestHandler(w http.ResponseWriter, r *http.Request) {
	n, err := getPathValueInt(r, "n")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n <= 0 || n > s.config.MaxLatestRuns {
		msg := fmt.Sprintf("n has to be in range [1, %d], got: %d",
			s.config.MaxLatestRuns, n)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	runs, dbErr := s.dbClient.ReadDagRunsWithTaskInfo(r.Context(), n)
	if dbErr != nil {
		s.logger.Error().Err(dbErr).Int("n", n).Msg("Cannot read latest DAG runs")
		http.Error(w, "cannot read DAG runs", http.StatusInternalServerError)
		return
	}
	result := make([]api.DagRun, 0, len(runs))
	for _, dr := range runs {
		result = append(result, api.DagRun{
			RunId:            dr.DagRun.RunId,
			DagId:            dr.DagRun.DagId,
			TriggerTs:        dr.DagRun.TriggerTs,
			TriggerEvent:     dr.DagRun.TriggerEvent,
			Status:           dr.DagRun.Status,
			StatusUpdateTs:   dr.DagRun.StatusUpdateTs,
			TaskNum:          dr.TaskNum,
			TaskCompletedNum: dr.TaskCompletedNum,
		})
	}
	if err := encode(w, http.StatusOK, result); err != nil {
		s.logger.Error().Err(err).Msg("Cannot encode latest DAG runs")
	}
}

// HTTP handler for details of single DAG run. Details of finished DAG runs
// are cached.
func (s *Scheduler) dagRunDetailsHandler(w http.ResponseWriter, r *http.Request) {
	runId, err := getPathValueStr(r, "runId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if details, cached := s.finished.Get(runId); cached {
		encodeOrLog(s, w, details)
		return
	}
	details, dErr := s.readDagRunDetails(r.Context(), runId)
	if errors.Is(dErr, sql.ErrNoRows) {
		http.Error(w, fmt.Sprintf("DAG run %s not found", runId),
			http.StatusNotFound)
		return
	}
	if dErr != nil {
		s.logger.Error().Err(dErr).Str("runId", runId).
			Msg("Cannot read DAG run details")
		http.Error(w, "cannot read DAG run details",
			http.StatusInternalServerError)
		return
	}
	if status, pErr := dag.ParseRunStatus(details.Status); pErr == nil && status.IsTerminal() {
		s.finished.Put(runId, details)
	}
	encodeOrLog(s, w, details)
}

// HTTP handler for triggering new DAG run outside of the schedule. Empty body
// triggers the scheduled DAG.
func (s *Scheduler) triggerDagRunHandler(w http.ResponseWriter, r *http.Request) {
	in, err := decode[api.DagRunTriggerInput](r)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.DagId != "" && in.DagId != string(s.dag.Id) {
		http.Error(w, fmt.Sprintf("unknown DAG %s", in.DagId),
			http.StatusBadRequest)
		return
	}
	runId, fErr := s.Fire(r.Context(), time.Now(), schedule.ManuallyTriggered)
	if errors.Is(fErr, ErrRunInProgress) {
		http.Error(w, fErr.Error(), http.StatusConflict)
		return
	}
	if fErr != nil {
		s.logger.Error().Err(fErr).Msg("Cannot trigger new DAG run")
		http.Error(w, "cannot trigger new DAG run",
			http.StatusInternalServerError)
		return
	}
	if err := encode(w, http.StatusAccepted, api.DagRunTriggerOutput{RunId: runId}); err != nil {
		s.logger.Error().Err(err).Msg("Cannot encode trigger response")
	}
}

func (s *Scheduler) readDagRunDetails(
	ctx context.Context, runId string,
) (api.DagRunDetails, error) {
	dr, err := s.dbClient.ReadDagRun(ctx, runId)
	if err != nil {
		return api.DagRunDetails{}, err
	}
	tasks, tErr := s.dbClient.ReadDagRunTasks(ctx, runId)
	if tErr != nil {
		return api.DagRunDetails{}, tErr
	}
	return toDagRunDetails(dr, tasks), nil
}

func toDagRunDetails(dr db.DagRun, tasks []db.DagRunTask) api.DagRunDetails {
	details := api.DagRunDetails{
		RunId:        dr.RunId,
		DagId:        dr.DagId,
		TriggerTs:    dr.TriggerTs,
		TriggerEvent: dr.TriggerEvent,
		Status:       dr.Status,
		Version:      dr.Version,
		Tasks:        make([]api.DagRunTask, 0, len(tasks)),
	}
	for _, t := range tasks {
		details.Tasks = append(details.Tasks, api.DagRunTask{
			TaskId:         t.TaskId,
			Status:         t.Status,
			StatusUpdateTs: t.StatusUpdateTs,
			Output:         t.Output,
			Reason:         t.Reason,
		})
	}
	return details
}

func encodeOrLog[T any](s *Scheduler, w http.ResponseWriter, v T) {
	if err := encode(w, http.StatusOK, v); err != nil {
		s.logger.Error().Err(err).Msg("Cannot encode response")
	}
}
