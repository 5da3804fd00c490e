// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package scheduler

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/meltinfra/bootstrap/api"
	"github.com/rs/zerolog"
)

// Client provides API for interacting with Scheduler.
type Client struct {
	httpClient   *http.Client
	schedulerUrl string
	logger       zerolog.Logger
	routes       map[api.EndpointID]api.Endpoint
}

// NewClient instantiate new Client. In case when HTTP client or logger are
// nil, those would be initialized with default parameters.
func NewClient(
	url string, httpClient *http.Client, logger *zerolog.Logger,
	config ClientConfig,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HttpClientTimeout}
	}
	return &Client{
		httpClient:   httpClient,
		schedulerUrl: url,
		logger:       defaultLogger(logger),
		routes:       api.Routes(),
	}
}

// GetState gets the current Scheduler state.
func (c *Client) GetState() (api.State, error) {
	state, _, err := httpGetJSON[api.State](c.httpClient, c.url(api.EndpointState))
	if err != nil {
		return api.State{}, fmt.Errorf("cannot get scheduler state: %w", err)
	}
	return *state, nil
}

// LatestDagRuns returns information on latest n DAG runs and its tasks
// completion.
func (c *Client) LatestDagRuns(n int) ([]api.DagRun, error) {
	startTs := time.Now()
	url := fmt.Sprintf("%s/%d", c.url(api.EndpointDagRunLatest), n)
	dagruns, _, err := httpGetJSON[[]api.DagRun](c.httpClient, url)
	if err != nil {
		c.logger.Error().Err(err).Int("n", n).
			Msg("Error while getting latest DAG runs")
		return nil, err
	}
	c.logger.Debug().Dur("duration", time.Since(startTs)).
		Msg("LatestDagRuns request finished")
	return *dagruns, nil
}

// DagRunDetails provides detailed information on given DAG run, including
// its tasks statuses and outputs.
func (c *Client) DagRunDetails(runId string) (api.DagRunDetails, error) {
	startTs := time.Now()
	u := fmt.Sprintf("%s/%s", c.url(api.EndpointDagRunDetails),
		url.PathEscape(runId))
	details, _, err := httpGetJSON[api.DagRunDetails](c.httpClient, u)
	if err != nil {
		c.logger.Error().Err(err).Str("runId", runId).
			Msg("Error while getting DAG run details")
		return api.DagRunDetails{}, err
	}
	c.logger.Debug().Dur("duration", time.Since(startTs)).
		Msg("DagRunDetails request finished")
	return *details, nil
}

// TriggerDagRun schedules new DAG run. When previous DAG run is still in
// progress ErrRunInProgress is returned.
func (c *Client) TriggerDagRun(in api.DagRunTriggerInput) (api.DagRunTriggerOutput, error) {
	out, code, err := httpPostJSON[api.DagRunTriggerInput, api.DagRunTriggerOutput](
		c.httpClient, c.url(api.EndpointDagRunTrigger), in, http.StatusAccepted,
	)
	if code == http.StatusConflict {
		return api.DagRunTriggerOutput{}, fmt.Errorf("%w: %w", ErrRunInProgress, err)
	}
	if err != nil {
		return api.DagRunTriggerOutput{}, fmt.Errorf("cannot trigger DAG run: %w", err)
	}
	c.logger.Info().Str("runId", out.RunId).Msg("Triggered new DAG run")
	return *out, nil
}

func (c *Client) url(e api.EndpointID) string {
	return c.schedulerUrl + c.routes[e].UrlSuffix
}
