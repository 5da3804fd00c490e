// Package tasks contains DAG tasks of the bootstrap pipeline. Every task
// renders its inputs within the current DAG run and delegates the work to one
// of the primitives: reconcile, probe or readiness.
package tasks

import (
	"fmt"
	"strings"

	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/pace"
	"github.com/meltinfra/bootstrap/pathexpr"
	"github.com/meltinfra/bootstrap/probe"
	"github.com/meltinfra/bootstrap/readiness"
	"github.com/meltinfra/bootstrap/reconcile"
	"github.com/meltinfra/bootstrap/secret"
)

// Reconcile is a get-or-create task. Paths are templates of the JSON array
// form of pathexpr.Path, so filter values might come from parameters.
type Reconcile struct {
	Name        string
	GetURL      dag.Template
	CheckPath   dag.Template
	NotFound    any
	FoundPath   dag.Template
	PostURL     dag.Template
	Payload     dag.Template
	Patch       *reconcile.Patch
	CreatedPath dag.Template
	Reconciler  *reconcile.Reconciler
}

func (r Reconcile) Id() string { return r.Name }

func (r Reconcile) Params() []dag.Param {
	return templateParams(r.GetURL, r.CheckPath, r.FoundPath, r.PostURL,
		r.Payload, r.CreatedPath)
}

// Execute returns extracted identifier of found or created resource.
func (r Reconcile) Execute(tc dag.TaskContext) (string, error) {
	req, err := r.request(tc)
	if err != nil {
		return "", err
	}
	res, err := r.Reconciler.Reconcile(tc.Context, req)
	if err != nil {
		return "", err
	}
	tc.Logger.Info().Bool("created", res.Created).Str("output", res.Output).
		Msg("Resource reconciled")
	return res.Output, nil
}

func (r Reconcile) request(tc dag.TaskContext) (reconcile.Request, error) {
	var texts [3]string
	for idx, t := range []dag.Template{r.GetURL, r.PostURL, r.Payload} {
		text, err := tc.Render(t)
		if err != nil {
			return reconcile.Request{}, err
		}
		texts[idx] = text
	}
	var paths [3]pathexpr.Path
	for idx, t := range []dag.Template{r.CheckPath, r.FoundPath, r.CreatedPath} {
		raw, err := tc.Render(t)
		if err != nil {
			return reconcile.Request{}, err
		}
		p, err := pathexpr.Parse(raw)
		if err != nil {
			return reconcile.Request{}, fmt.Errorf("task %s: %w", r.Name, err)
		}
		paths[idx] = p
	}
	return reconcile.Request{
		GetURL:      texts[0],
		CheckPath:   paths[0],
		NotFound:    r.NotFound,
		FoundPath:   paths[1],
		PostURL:     texts[1],
		Payload:     texts[2],
		Patch:       r.Patch,
		CreatedPath: paths[2],
	}, nil
}

// HTTPGet repeats GET request until the condition holds. Output is the body of
// the last response.
type HTTPGet struct {
	Name      string
	URL       dag.Template
	Condition probe.Condition
	Policy    pace.RetryPolicy
	Prober    *probe.Prober
}

func (h HTTPGet) Id() string          { return h.Name }
func (h HTTPGet) Params() []dag.Param { return templateParams(h.URL) }

func (h HTTPGet) Execute(tc dag.TaskContext) (string, error) {
	url, err := tc.Render(h.URL)
	if err != nil {
		return "", err
	}
	resp, err := h.Prober.Get(tc.Context, url, h.Condition, h.Policy)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// HTTPPost sends single JSON POST request. Output is the response body.
type HTTPPost struct {
	Name      string
	URL       dag.Template
	Body      dag.Template
	Condition probe.Condition
	Prober    *probe.Prober
}

func (h HTTPPost) Id() string          { return h.Name }
func (h HTTPPost) Params() []dag.Param { return templateParams(h.URL, h.Body) }

func (h HTTPPost) Execute(tc dag.TaskContext) (string, error) {
	url, err := tc.Render(h.URL)
	if err != nil {
		return "", err
	}
	body, err := tc.Render(h.Body)
	if err != nil {
		return "", err
	}
	if _, err := pathexpr.Decode([]byte(body)); err != nil {
		return "", fmt.Errorf("task %s: request body is not valid JSON: %w",
			h.Name, err)
	}
	resp, err := h.Prober.PostJSON(tc.Context, url, []byte(body), h.Condition)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// StoreReady waits until the store accepts authenticated connections.
type StoreReady struct {
	Name    string
	Store   readiness.StoreConfig
	Checker readiness.Checker
	Secrets secret.Resolver
	Policy  pace.RetryPolicy
}

func (s StoreReady) Id() string          { return s.Name }
func (s StoreReady) Params() []dag.Param { return nil }

func (s StoreReady) Execute(tc dag.TaskContext) (string, error) {
	err := readiness.WaitForStoreReady(tc.Context, s.Checker, s.Store,
		s.Secrets, s.Policy, &tc.Logger)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s - accepting connections", s.Store.Addr()), nil
}

// ValidateTemplates checks that every placeholder of given task templates has
// its parameter. Tasks which do not use templates are always valid.
func ValidateTemplates(task dag.Task) error {
	var templates []dag.Template
	switch t := task.(type) {
	case Reconcile:
		templates = []dag.Template{t.GetURL, t.CheckPath, t.FoundPath,
			t.PostURL, t.Payload, t.CreatedPath}
	case HTTPGet:
		templates = []dag.Template{t.URL}
	case HTTPPost:
		templates = []dag.Template{t.URL, t.Body}
	}
	for _, tmpl := range templates {
		if err := tmpl.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", task.Id(), err)
		}
	}
	return nil
}

func templateParams(templates ...dag.Template) []dag.Param {
	params := make([]dag.Param, 0)
	for _, t := range templates {
		params = append(params, t.Params()...)
	}
	return params
}
