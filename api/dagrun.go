// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package api

// DagRun contains information about a DAG run for listings.
type DagRun struct {
	RunId            string `json:"runId"`
	DagId            string `json:"dagId"`
	TriggerTs        string `json:"triggerTs"`
	TriggerEvent     string `json:"triggerEvent"`
	Status           string `json:"status"`
	StatusUpdateTs   string `json:"statusUpdateTs"`
	TaskNum          int    `json:"taskNum"`
	TaskCompletedNum int    `json:"taskCompletedNum"`
}

// DagRunTask contains information about a task within a DAG run. Reason is
// the error message for failed tasks and the skip reason for tasks with
// upstream failures.
type DagRunTask struct {
	TaskId         string  `json:"taskId"`
	Status         string  `json:"status"`
	StatusUpdateTs string  `json:"statusUpdateTs"`
	Output         *string `json:"output,omitempty"`
	Reason         *string `json:"reason,omitempty"`
}

// DagRunDetails contains DAG run information together with its tasks.
type DagRunDetails struct {
	RunId        string       `json:"runId"`
	DagId        string       `json:"dagId"`
	TriggerTs    string       `json:"triggerTs"`
	TriggerEvent string       `json:"triggerEvent"`
	Status       string       `json:"status"`
	Version      string       `json:"version"`
	Tasks        []DagRunTask `json:"tasks"`
}

// DagRunTriggerInput defines input structure for triggering new DAG run. Empty
// DagId means the scheduled DAG.
type DagRunTriggerInput struct {
	DagId string `json:"dagId"`
}

// DagRunTriggerOutput is the response for accepted trigger.
type DagRunTriggerOutput struct {
	RunId string `json:"runId"`
}

// State is the current state of the Scheduler.
type State struct {
	Status       string  `json:"status"`
	Version      string  `json:"version"`
	DagId        string  `json:"dagId"`
	Schedule     string  `json:"schedule"`
	NextSchedule *string `json:"nextSchedule"`
	ActiveRunId  *string `json:"activeRunId"`
}
