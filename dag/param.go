// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package dag

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/meltinfra/bootstrap/pathexpr"
)

var (
	ErrUnknownConst       = errors.New("unknown constant")
	ErrOutputNotAvailable = errors.New("task output not available")
	ErrMissingPlaceholder = errors.New("template placeholder without parameter")
)

// ParamKind says where parameter value comes from.
type ParamKind int

const (
	LiteralParam ParamKind = iota
	ConstParam
	OutputParam
)

// Param is a task input. Its value is either given literally, taken from
// DAG-wide constants or taken from the captured output of another task, which
// has to be an ancestor of the task using the parameter.
type Param struct {
	Kind  ParamKind
	Value string

	// Optional projection of JSON output. Only for OutputParam.
	Path pathexpr.Path
}

// Literal returns parameter of fixed value.
func Literal(value string) Param { return Param{Kind: LiteralParam, Value: value} }

// Const returns parameter referencing DAG constant of given name.
func Const(name string) Param { return Param{Kind: ConstParam, Value: name} }

// OutputOf returns parameter referencing captured output of given task.
func OutputOf(taskId string) Param { return Param{Kind: OutputParam, Value: taskId} }

// OutputOfPath returns parameter referencing value at given path within JSON
// output of given task. Strings are taken raw, other values as JSON.
func OutputOfPath(taskId string, path pathexpr.Path) Param {
	return Param{Kind: OutputParam, Value: taskId, Path: path}
}

func (p Param) String() string {
	switch p.Kind {
	case LiteralParam:
		return fmt.Sprintf("literal(%q)", p.Value)
	case ConstParam:
		return fmt.Sprintf("const(%s)", p.Value)
	case OutputParam:
		if len(p.Path) > 0 {
			return fmt.Sprintf("outputOf(%s)%s", p.Value, strings.TrimPrefix(p.Path.String(), "$"))
		}
		return fmt.Sprintf("outputOf(%s)", p.Value)
	}
	return fmt.Sprintf("param(%d, %q)", p.Kind, p.Value)
}

var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template is a string with ${name} placeholders substituted verbatim with
// values of named parameters. It's used to build URLs and JSON payloads.
type Template struct {
	text   string
	params map[string]Param
}

// NewTemplate creates Template for given text and parameters.
func NewTemplate(text string, params map[string]Param) Template {
	if params == nil {
		params = map[string]Param{}
	}
	return Template{text: text, params: params}
}

// Params returns template parameters sorted by name.
func (t Template) Params() []Param {
	names := make([]string, 0, len(t.params))
	for name := range t.params {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]Param, len(names))
	for idx, name := range names {
		params[idx] = t.params[name]
	}
	return params
}

// Validate checks that every placeholder has its parameter.
func (t Template) Validate() error {
	for _, match := range placeholderRegex.FindAllStringSubmatch(t.text, -1) {
		if _, exists := t.params[match[1]]; !exists {
			return fmt.Errorf("%w: ${%s} in %q", ErrMissingPlaceholder,
				match[1], t.text)
		}
	}
	return nil
}

// Render substitutes placeholders with resolved parameter values.
func (t Template) Render(resolve func(Param) (string, error)) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	var firstErr error
	out := placeholderRegex.ReplaceAllStringFunc(t.text, func(ph string) string {
		name := ph[2 : len(ph)-1]
		value, err := resolve(t.params[name])
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cannot resolve ${%s}: %w", name, err)
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// String returns the raw template text.
func (t Template) String() string { return t.text }
