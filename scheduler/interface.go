package scheduler

import "github.com/meltinfra/bootstrap/api"

// API defines Scheduler HTTP API. Client implements this interface.
type API interface {
	GetState() (api.State, error)
	LatestDagRuns(n int) ([]api.DagRun, error)
	DagRunDetails(runId string) (api.DagRunDetails, error)
	TriggerDagRun(api.DagRunTriggerInput) (api.DagRunTriggerOutput, error)
}
