// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

/*
Package pathexpr implements a small language for locating and filtering
values inside JSON documents.

A path is a sequence of steps. It is serialized as a JSON array, where each
element is either a string or a filter object:

	["data", {"filterByKey": {"key": "name", "value": "melt"}}, "0", "workspaceId"]

String steps are interpreted against the current value: on objects they are
keys, on arrays they are either "*" (apply the rest of the path to every
element) or a decimal index. A filter step keeps only those array elements
which are objects with the given key equal to the given value.

Documents are the values produced by encoding/json with UseNumber enabled,
so integers keep their exact textual form. Use Decode to get one.
*/
package pathexpr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wildcard is the string step which maps the remaining path over every array
// element.
const Wildcard = "*"

var (
	ErrInvalidStep  = errors.New("invalid path step")
	ErrPathNotFound = errors.New("path not found in the document")
)

// Step is a single step of a Path. Exactly one of Name or Filter is set.
type Step struct {
	Name   string
	Filter *Filter
}

// Filter keeps array elements which are objects with Key equal to Value.
type Filter struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Key returns a named step.
func Key(name string) Step { return Step{Name: name} }

// Index returns a step selecting i-th element of an array.
func Index(i int) Step { return Step{Name: strconv.Itoa(i)} }

// All returns the wildcard step.
func All() Step { return Step{Name: Wildcard} }

// FilterByKey returns a filter step.
func FilterByKey(key string, value any) Step {
	return Step{Filter: &Filter{Key: key, Value: value}}
}

func (s Step) isFilter() bool { return s.Filter != nil }

type filterStep struct {
	FilterByKey *Filter `json:"filterByKey"`
}

// MarshalJSON serializes the step either as a string or as a filterByKey
// object.
func (s Step) MarshalJSON() ([]byte, error) {
	if s.isFilter() {
		return json.Marshal(filterStep{FilterByKey: s.Filter})
	}
	return json.Marshal(s.Name)
}

// UnmarshalJSON parses a step from a string or a filterByKey object.
func (s *Step) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = Step{Name: name}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fs filterStep
	if err := dec.Decode(&fs); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidStep, string(data))
	}
	if fs.FilterByKey == nil {
		return fmt.Errorf("%w: expected string or filterByKey object, got %s",
			ErrInvalidStep, string(data))
	}
	*s = Step{Filter: fs.FilterByKey}
	return nil
}

// String returns human readable form of the step.
func (s Step) String() string {
	if s.isFilter() {
		v, _ := json.Marshal(s.Filter.Value)
		return fmt.Sprintf("[%s==%s]", s.Filter.Key, string(v))
	}
	return s.Name
}

// Path is a sequence of steps.
type Path []Step

// New builds a Path from given steps.
func New(steps ...Step) Path { return Path(steps) }

// Parse parses a Path from its JSON array form. Empty input is the empty
// path.
func Parse(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Path{}, nil
	}
	var p Path
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("cannot parse path %s: %w", raw, err)
	}
	if p == nil {
		p = Path{}
	}
	return p, nil
}

// MustParse is like Parse but panics on error. It's meant for static paths.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path in dotted form, e.g. data.[name=="melt"].0.id.
func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return "$." + strings.Join(parts, ".")
}

// Decode parses JSON document keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON document")
	}
	return doc, nil
}

// Render returns JSON strings as they are and encodes every other value as
// JSON.
func Render(v any) (string, error) {
	if s, isStr := v.(string); isStr {
		return s, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
