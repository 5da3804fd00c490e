// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package ds contains generic data structures safe for concurrent use.
package ds

import "sync"

// Analog of standard map but safe to use among many goroutines.
type AsyncMap[K comparable, V any] struct {
	sync.Mutex
	data map[K]V
}

// Instantiate new empty AsyncMap of given types.
func NewAsyncMap[K comparable, V any]() *AsyncMap[K, V] {
	return &AsyncMap[K, V]{
		data: map[K]V{},
	}
}

// Add value for a given key to the map. If given key already exists in the map
// it will be overwritten (consistent with standard map[K]V).
func (am *AsyncMap[K, V]) Add(key K, value V) {
	am.Lock()
	am.data[key] = value
	am.Unlock()
}

// AddIfAbsent adds value for given key only when the key is not yet in the
// map. Returns false when the key already existed and nothing was changed.
func (am *AsyncMap[K, V]) AddIfAbsent(key K, value V) bool {
	am.Lock()
	defer am.Unlock()
	if _, exists := am.data[key]; exists {
		return false
	}
	am.data[key] = value
	return true
}

// Update atomically replaces value for given key with the result of fn. When
// fn returns non-nil error the map is not modified and the error is returned.
func (am *AsyncMap[K, V]) Update(key K, fn func(current V, exists bool) (V, error)) error {
	am.Lock()
	defer am.Unlock()
	current, exists := am.data[key]
	updated, err := fn(current, exists)
	if err != nil {
		return err
	}
	am.data[key] = updated
	return nil
}

// Get gets value from the map for given key. If given key does not exists, the
// second return value will be false.
func (am *AsyncMap[K, V]) Get(key K) (V, bool) {
	am.Lock()
	defer am.Unlock()
	value, exists := am.data[key]
	return value, exists
}

// Snapshot returns a copy of the map content.
func (am *AsyncMap[K, V]) Snapshot() map[K]V {
	am.Lock()
	defer am.Unlock()
	out := make(map[K]V, len(am.data))
	for k, v := range am.data {
		out[k] = v
	}
	return out
}

// Len returns size of the map.
func (am *AsyncMap[K, V]) Len() int {
	am.Lock()
	defer am.Unlock()
	return len(am.data)
}
