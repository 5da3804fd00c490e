// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package probe provides HTTP probes: GET repeated until a success condition
// holds and a single JSON POST checked against a success condition.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meltinfra/bootstrap/pace"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrConditionNotMet is returned when a response does not satisfy the
// success condition.
var ErrConditionNotMet = errors.New("success condition not met")

// Max response body bytes kept in errors and logs.
const maxBodyInError = 512

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Condition is a predicate over a Response. The zero Condition means status
// 200.
type Condition struct {
	desc string
	fn   func(Response) bool
}

// StatusIs holds when response status code equals given code.
func StatusIs(code int) Condition {
	return Condition{
		desc: fmt.Sprintf("status==%d", code),
		fn:   func(r Response) bool { return r.StatusCode == code },
	}
}

// Status2xx holds for any successful status code.
func Status2xx() Condition {
	return Condition{
		desc: "status 2xx",
		fn:   func(r Response) bool { return r.StatusCode >= 200 && r.StatusCode < 300 },
	}
}

// BodyContains holds when response body contains given substring.
func BodyContains(s string) Condition {
	return Condition{
		desc: fmt.Sprintf("body contains %q", s),
		fn:   func(r Response) bool { return bytes.Contains(r.Body, []byte(s)) },
	}
}

// All holds when every given condition holds.
func All(conds ...Condition) Condition {
	descs := make([]string, len(conds))
	for i, c := range conds {
		descs[i] = c.String()
	}
	return Condition{
		desc: strings.Join(descs, " && "),
		fn: func(r Response) bool {
			for _, c := range conds {
				if !c.Met(r) {
					return false
				}
			}
			return true
		},
	}
}

// Met checks the condition against given response.
func (c Condition) Met(r Response) bool {
	if c.fn == nil {
		return StatusIs(http.StatusOK).Met(r)
	}
	return c.fn(r)
}

func (c Condition) String() string {
	if c.fn == nil {
		return StatusIs(http.StatusOK).String()
	}
	return c.desc
}

// Prober performs HTTP probes using given HTTP client.
type Prober struct {
	client  *http.Client
	logger  zerolog.Logger
	onRetry func(url string, attempt int, err error)
}

// New creates new Prober. If client is nil, http.DefaultClient is used. If
// logger is nil, the global zerolog logger is used.
func New(client *http.Client, logger *zerolog.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Prober{client: client, logger: l}
}

// OnRetry sets a callback called before every retry of Get.
func (p *Prober) OnRetry(fn func(url string, attempt int, err error)) *Prober {
	p.onRetry = fn
	return p
}

// Get sends GET requests until the response satisfies cond or the retry
// policy is exhausted. Transport errors are retried as well. On final failure
// the error describes the last response or the last transport error.
func (p *Prober) Get(
	ctx context.Context, url string, cond Condition, policy pace.RetryPolicy,
) (Response, error) {
	start := time.Now()
	var last Response
	err := pace.Retry(ctx, policy, func(attempt int) error {
		resp, err := p.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		last = resp
		if !cond.Met(resp) {
			return notMet(http.MethodGet, url, cond, resp)
		}
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		p.logger.Warn().Str("url", url).Int("attempt", attempt).
			Dur("wait", wait).Err(err).
			Msg("HTTP GET probe did not succeed, will retry")
		if p.onRetry != nil {
			p.onRetry(url, attempt, err)
		}
	})
	if err != nil {
		p.logger.Error().Str("url", url).Str("condition", cond.String()).
			Dur("duration", time.Since(start)).Err(err).
			Msg("HTTP GET probe failed")
		return last, err
	}
	p.logger.Debug().Str("url", url).Int("status", last.StatusCode).
		Dur("duration", time.Since(start)).Msg("HTTP GET probe succeeded")
	return last, nil
}

// GetOnce sends a single GET and checks the response against cond.
func (p *Prober) GetOnce(
	ctx context.Context, url string, cond Condition,
) (Response, error) {
	resp, err := p.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resp, err
	}
	if !cond.Met(resp) {
		return resp, notMet(http.MethodGet, url, cond, resp)
	}
	return resp, nil
}

// PostJSON sends a single POST with given JSON body and checks the response
// against cond. There are no retries.
func (p *Prober) PostJSON(
	ctx context.Context, url string, body []byte, cond Condition,
) (Response, error) {
	start := time.Now()
	resp, err := p.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return resp, err
	}
	if !cond.Met(resp) {
		return resp, notMet(http.MethodPost, url, cond, resp)
	}
	p.logger.Debug().Str("url", url).Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).Msg("HTTP POST succeeded")
	return resp, nil
}

func (p *Prober) do(
	ctx context.Context, method, url string, body []byte,
) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, errors.Wrapf(err, "cannot create %s request", method)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode},
			errors.Wrapf(err, "cannot read %s %s response body", method, url)
	}
	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func notMet(method, url string, cond Condition, resp Response) error {
	return errors.Wrapf(ErrConditionNotMet, "%s %s (%s): got status %d, body: %s",
		method, url, cond, resp.StatusCode, Truncate(resp.Body))
}

// Truncate shortens response body for errors and logs.
func Truncate(body []byte) string {
	if len(body) <= maxBodyInError {
		return string(body)
	}
	return string(body[:maxBodyInError]) + "..."
}
