// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package secret provides indirect references to secret values and resolvers
// which turn those references into values at execution time.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const redacted = "[REDACTED]"

var (
	ErrNotFound   = errors.New("secret not found")
	ErrInvalidRef = errors.New("invalid secret reference")
)

// Ref points to a secret by store name and key name. It never carries the
// secret value.
type Ref struct {
	Store string `json:"store" hcl:"store"`
	Key   string `json:"key" hcl:"key"`
}

// Validate checks that both parts of the reference are set.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.Store) == "" || strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("%w: store and key are required, got %q/%q",
			ErrInvalidRef, r.Store, r.Key)
	}
	return nil
}

func (r Ref) String() string { return r.Store + "/" + r.Key }

// Value holds a resolved secret. It prints and serializes as [REDACTED];
// Reveal is the only way to get the plaintext.
type Value struct {
	plain string
}

// NewValue wraps given plaintext.
func NewValue(plain string) Value { return Value{plain: plain} }

// Reveal returns the plaintext secret.
func (v Value) Reveal() string { return v.plain }

func (v Value) String() string   { return redacted }
func (v Value) GoString() string { return redacted }

// MarshalJSON always produces "[REDACTED]".
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Resolver turns a Ref into a Value. Implementations return an error wrapping
// ErrNotFound when the store or the key does not exist.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (Value, error)
}

// Static resolves secrets from an in-memory map of store -> key -> value.
type Static map[string]map[string]string

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, ref Ref) (Value, error) {
	if err := ref.Validate(); err != nil {
		return Value{}, err
	}
	store, exists := s[ref.Store]
	if !exists {
		return Value{}, fmt.Errorf("%w: store %q", ErrNotFound, ref.Store)
	}
	v, exists := store[ref.Key]
	if !exists {
		return Value{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return NewValue(v), nil
}

// Dir resolves secrets from files laid out as <Root>/<store>/<key>, which is
// how Kubernetes mounts secret volumes. Trailing new lines are trimmed.
type Dir struct {
	Root string
}

// Resolve implements Resolver.
func (d Dir) Resolve(ctx context.Context, ref Ref) (Value, error) {
	if err := ref.Validate(); err != nil {
		return Value{}, err
	}
	if strings.ContainsAny(ref.Store+ref.Key, `/\`) || ref.Store == ".." ||
		ref.Key == ".." {
		return Value{}, fmt.Errorf("%w: path separators are not allowed in %s",
			ErrInvalidRef, ref)
	}
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	content, err := os.ReadFile(filepath.Join(d.Root, ref.Store, ref.Key))
	if errors.Is(err, os.ErrNotExist) {
		return Value{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return Value{}, fmt.Errorf("cannot read secret %s: %w", ref, err)
	}
	return NewValue(strings.TrimRight(string(content), "\r\n")), nil
}

// Env resolves secrets from environment variables named
// <Prefix><STORE>_<KEY>, upper-cased with every non alphanumeric character
// replaced by underscore. For example with prefix "MELT_SECRET_" reference
// melt-postgres/meltPassword is read from MELT_SECRET_MELT_POSTGRES_MELTPASSWORD.
type Env struct {
	Prefix string
}

// VarName returns environment variable name for given reference.
func (e Env) VarName(ref Ref) string {
	return e.Prefix + envPart(ref.Store) + "_" + envPart(ref.Key)
}

// Resolve implements Resolver.
func (e Env) Resolve(_ context.Context, ref Ref) (Value, error) {
	if err := ref.Validate(); err != nil {
		return Value{}, err
	}
	v, exists := os.LookupEnv(e.VarName(ref))
	if !exists {
		return Value{}, fmt.Errorf("%w: %s (env %s)", ErrNotFound, ref,
			e.VarName(ref))
	}
	return NewValue(v), nil
}

func envPart(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, s)
}

// Chain asks resolvers in order and returns the first value found. Errors
// other than ErrNotFound stop the chain.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, ref Ref) (Value, error) {
	for _, r := range c {
		v, err := r.Resolve(ctx, ref)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Value{}, err
		}
	}
	return Value{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}
