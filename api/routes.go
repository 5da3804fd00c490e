// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package api provides information about Scheduler HTTP endpoints and models
// exchanged through them.
package api

// Identifier for Scheduler server endpoints.
type EndpointID int

const (
	// Endpoint return current status of Scheduler.
	EndpointState EndpointID = iota

	// Endpoint returns data on N latest DAG runs.
	EndpointDagRunLatest

	// Endpoint returns details of given DAG run, including its tasks.
	EndpointDagRunDetails

	// Endpoint for triggering new DAG run outside of the schedule.
	EndpointDagRunTrigger

	// Endpoint exposing Prometheus metrics.
	EndpointMetrics
)

// Endpoint contains information about an HTTP endpoint.
type Endpoint struct {
	RoutePattern string
	UrlSuffix    string
}

// Routes for all Scheduler server endpoints.
func Routes() map[EndpointID]Endpoint {
	return map[EndpointID]Endpoint{
		// /state
		EndpointState: {"GET /state", "/state"},

		// /dag/run/*
		EndpointDagRunLatest:  {"GET /dag/run/latest/{n}", "/dag/run/latest"},
		EndpointDagRunDetails: {"GET /dag/run/{runId}", "/dag/run"},
		EndpointDagRunTrigger: {"POST /dag/run/trigger", "/dag/run/trigger"},

		// /metrics
		EndpointMetrics: {"GET /metrics", "/metrics"},
	}
}
