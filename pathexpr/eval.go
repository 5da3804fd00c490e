// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package pathexpr

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
)

// Result is the outcome of evaluating a Path against a document. When Found
// is false, Value is nil.
type Result struct {
	Value any
	Found bool
}

// NotFound is the Result for paths which cannot be followed.
var NotFound = Result{}

// Found wraps given value into a Result.
func Found(v any) Result { return Result{Value: v, Found: true} }

// String returns short description of the result.
func (r Result) String() string {
	if !r.Found {
		return "NotFound"
	}
	s, err := Render(r.Value)
	if err != nil {
		return fmt.Sprintf("Found(%v)", r.Value)
	}
	return "Found(" + s + ")"
}

// Eval follows given path in the document. A missing key, an index out of
// range or a step which does not apply to the current value (e.g. a key on an
// array) results in NotFound. Wildcard steps produce an array; if the rest of
// the path cannot be followed for any element, the whole result is NotFound.
func Eval(doc any, p Path) Result {
	if len(p) == 0 {
		return Found(doc)
	}
	step, rest := p[0], p[1:]

	switch v := doc.(type) {
	case map[string]any:
		if step.isFilter() {
			return NotFound
		}
		child, exists := v[step.Name]
		if !exists {
			return NotFound
		}
		return Eval(child, rest)

	case []any:
		if step.isFilter() {
			return Eval(filter(v, *step.Filter), rest)
		}
		if step.Name == Wildcard {
			mapped := make([]any, 0, len(v))
			for _, elem := range v {
				res := Eval(elem, rest)
				if !res.Found {
					return NotFound
				}
				mapped = append(mapped, res.Value)
			}
			return Found(mapped)
		}
		idx, ok := arrayIndex(step.Name, len(v))
		if !ok {
			return NotFound
		}
		return Eval(v[idx], rest)
	}
	return NotFound
}

// Set returns a copy of the document with the value at given path replaced by
// value. The input document is never modified; containers along the path are
// copied. Wildcard steps set the value in every array element. Steps which
// reach a scalar leave that scalar unchanged. Missing keys and indexes out of
// range result in ErrPathNotFound. Filter steps are not supported.
func Set(doc any, p Path, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	step, rest := p[0], p[1:]
	if step.isFilter() {
		return nil, fmt.Errorf("%w: filter step %s cannot be used for setting",
			ErrInvalidStep, step)
	}

	switch v := doc.(type) {
	case map[string]any:
		child, exists := v[step.Name]
		if !exists {
			return nil, fmt.Errorf("%w: key %q", ErrPathNotFound, step.Name)
		}
		newChild, err := Set(child, rest, value)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		out[step.Name] = newChild
		return out, nil

	case []any:
		out := make([]any, len(v))
		copy(out, v)
		if step.Name == Wildcard {
			for i, elem := range v {
				newElem, err := Set(elem, rest, value)
				if err != nil {
					return nil, err
				}
				out[i] = newElem
			}
			return out, nil
		}
		idx, ok := arrayIndex(step.Name, len(v))
		if !ok {
			return nil, fmt.Errorf("%w: index %q (len=%d)", ErrPathNotFound,
				step.Name, len(v))
		}
		newElem, err := Set(v[idx], rest, value)
		if err != nil {
			return nil, err
		}
		out[idx] = newElem
		return out, nil
	}
	return doc, nil
}

// Equal compares two JSON values. Numbers are compared by value regardless of
// whether they are json.Number, float64 or integer types.
func Equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func filter(arr []any, f Filter) []any {
	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		obj, isObj := elem.(map[string]any)
		if !isObj {
			continue
		}
		if val, exists := obj[f.Key]; exists && Equal(val, f.Value) {
			out = append(out, elem)
		}
	}
	return out
}

// Negative indexes count from the end of the array.
func arrayIndex(s string, length int) (int, bool) {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		return numberKey(string(x))
	case float64:
		return numberKey(strconv.FormatFloat(x, 'g', -1, 64))
	case float32:
		return numberKey(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case int:
		return numberKey(strconv.Itoa(x))
	case int64:
		return numberKey(strconv.FormatInt(x, 10))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

type number string

// numberKey returns canonical representation of a numeric literal, so 1, 1.0
// and 1e0 are equal.
func numberKey(s string) number {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return number(s)
	}
	return number(r.RatString())
}
