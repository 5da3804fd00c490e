// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

/*
Package reconcile implements get-or-create of a REST resource.

Reconcile first lists a collection with GET and looks for the resource using a
check path. When the value at the check path differs from the not-found
sentinel, the resource already exists and its identifier is extracted from the
GET body. Otherwise the payload is POSTed (optionally after patching a secret
into it) and the identifier is extracted from the POST response.

A missing check path in the GET body counts as not found. Missing extract paths
are semantic errors: repeating the same request would not help.
*/
package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/meltinfra/bootstrap/pathexpr"
	"github.com/meltinfra/bootstrap/probe"
	"github.com/meltinfra/bootstrap/secret"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSemanticMismatch = errors.New("response does not match expected shape")
	ErrSecretResolution = errors.New("cannot resolve secret")
	ErrMalformedJSON    = errors.New("malformed JSON")
	ErrInvalidRequest   = errors.New("invalid reconciliation request")
)

// Patch sets the value of Secret at Path in the POST payload right before
// sending it.
type Patch struct {
	Path   pathexpr.Path `json:"path"`
	Secret secret.Ref    `json:"secret"`
}

// Request describes a single get-or-create operation. Payload is a JSON
// document with every parameter already interpolated. Request never holds
// secret values, so it can be logged and persisted as is.
type Request struct {
	GetURL      string        `json:"getUrl"`
	CheckPath   pathexpr.Path `json:"checkPath"`
	NotFound    any           `json:"notFoundSentinel"`
	FoundPath   pathexpr.Path `json:"foundPath"`
	PostURL     string        `json:"postUrl"`
	Payload     string        `json:"payload"`
	Patch       *Patch        `json:"patch,omitempty"`
	CreatedPath pathexpr.Path `json:"createdPath"`
}

// Validate checks that required fields are set.
func (r Request) Validate() error {
	if r.GetURL == "" || r.PostURL == "" {
		return errors.Wrap(ErrInvalidRequest, "both GET and POST URLs are required")
	}
	if r.Patch != nil {
		if err := r.Patch.Secret.Validate(); err != nil {
			return errors.Wrapf(ErrInvalidRequest, "patch: %v", err)
		}
	}
	return nil
}

// Result of reconciliation. Created is true when the resource was POSTed.
type Result struct {
	Output  string
	Created bool
}

// Reconciler performs reconciliation requests.
type Reconciler struct {
	prober  *probe.Prober
	secrets secret.Resolver
	logger  zerolog.Logger
}

// New creates a Reconciler. Secrets resolver may be nil when no request uses
// patches. If logger is nil, the global zerolog logger is used.
func New(client *http.Client, secrets secret.Resolver, logger *zerolog.Logger) *Reconciler {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Reconciler{
		prober:  probe.New(client, &l),
		secrets: secrets,
		logger:  l,
	}
}

// Reconcile runs get-or-create for given request. Output is the extracted
// value: JSON strings are returned raw, any other value is encoded as JSON.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	logger := r.logger.With().Str("getUrl", req.GetURL).Logger()

	getResp, err := r.prober.GetOnce(ctx, req.GetURL, probe.Status2xx())
	if err != nil {
		return Result{}, errors.Wrap(err, "reconcile GET")
	}
	getDoc, err := pathexpr.Decode(getResp.Body)
	if err != nil {
		return Result{}, errors.Wrapf(ErrMalformedJSON, "GET %s: %v: %s",
			req.GetURL, err, probe.Truncate(getResp.Body))
	}

	candidate := pathexpr.Eval(getDoc, req.CheckPath)
	if candidate.Found && !pathexpr.Equal(candidate.Value, req.NotFound) {
		out, err := extract(getDoc, req.FoundPath, "GET "+req.GetURL)
		if err != nil {
			return Result{}, err
		}
		logger.Info().Str("output", out).Dur("duration", time.Since(start)).
			Msg("Resource already exists")
		return Result{Output: out}, nil
	}
	logger.Debug().Str("checkPath", req.CheckPath.String()).
		Stringer("candidate", candidate).
		Msg("Resource not found, will create it")

	payload, err := r.renderPayload(ctx, req)
	if err != nil {
		return Result{}, err
	}
	postResp, err := r.prober.PostJSON(ctx, req.PostURL, payload, probe.Status2xx())
	if err != nil {
		return Result{}, errors.Wrap(err, "reconcile POST")
	}
	postDoc, err := pathexpr.Decode(postResp.Body)
	if err != nil {
		return Result{}, errors.Wrapf(ErrMalformedJSON, "POST %s: %v: %s",
			req.PostURL, err, probe.Truncate(postResp.Body))
	}
	out, err := extract(postDoc, req.CreatedPath, "POST "+req.PostURL)
	if err != nil {
		return Result{}, err
	}
	logger.Info().Str("postUrl", req.PostURL).Str("output", out).
		Dur("duration", time.Since(start)).Msg("Resource created")
	return Result{Output: out, Created: true}, nil
}

// Parses the payload template and applies the patch on a copy. The returned
// bytes may contain the secret and must not be logged.
func (r *Reconciler) renderPayload(ctx context.Context, req Request) ([]byte, error) {
	doc, err := pathexpr.Decode([]byte(req.Payload))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "payload is not valid JSON: %v", err)
	}
	if req.Patch == nil {
		return json.Marshal(doc)
	}
	if r.secrets == nil {
		return nil, errors.Wrapf(ErrSecretResolution, "%s: no secret resolver configured",
			req.Patch.Secret)
	}
	value, err := r.secrets.Resolve(ctx, req.Patch.Secret)
	if err != nil {
		return nil, errors.Wrapf(ErrSecretResolution, "%s: %v", req.Patch.Secret, err)
	}
	patched, err := pathexpr.Set(doc, req.Patch.Path, value.Reveal())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "cannot patch payload at %s: %v",
			req.Patch.Path, err)
	}
	return json.Marshal(patched)
}

func extract(doc any, path pathexpr.Path, source string) (string, error) {
	res := pathexpr.Eval(doc, path)
	if !res.Found {
		return "", errors.Wrapf(ErrSemanticMismatch, "%s: no value at %s", source, path)
	}
	out, err := pathexpr.Render(res.Value)
	if err != nil {
		return "", errors.Wrapf(ErrSemanticMismatch, "%s: cannot render value at %s: %v",
			source, path, err)
	}
	return out, nil
}
