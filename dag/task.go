// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package dag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const MAX_RECURSION = 10000

// TaskContext is a context for Task execute method. It's prepared by the
// scheduler engine for every task run.
type TaskContext struct {
	Context context.Context
	Logger  zerolog.Logger
	Run     RunInfo

	state *RunState
}

// NewTaskContext creates TaskContext for given DAG run state.
func NewTaskContext(ctx context.Context, logger zerolog.Logger, state *RunState) TaskContext {
	return TaskContext{
		Context: ctx,
		Logger:  logger,
		Run:     state.Info,
		state:   state,
	}
}

// Resolve returns the value of given parameter within the current DAG run.
func (tc TaskContext) Resolve(p Param) (string, error) {
	if tc.state == nil {
		if p.Kind == LiteralParam {
			return p.Value, nil
		}
		return "", fmt.Errorf("%w: no run state for %s", ErrOutputNotAvailable, p)
	}
	return tc.state.Resolve(p)
}

// Render renders given template using parameters resolved within the current
// DAG run.
func (tc TaskContext) Render(t Template) (string, error) {
	return t.Render(tc.Resolve)
}

// Task represents single step in DAG. Params declares task inputs, so DAG
// validation can check references to constants and outputs of other tasks.
// Execute returns captured output of the task, which is available to
// downstream tasks via OutputOf parameters.
type Task interface {
	Id() string
	Params() []Param
	Execute(TaskContext) (string, error)
}

// TaskStatus enumerates possible Task states within the DAG run.
type TaskStatus int

const (
	TaskScheduled TaskStatus = iota
	TaskRunning
	TaskFailed
	TaskSuccess
	TaskUpstreamFailed
)

// String serializes TaskStatus to its upper case string.
func (s TaskStatus) String() string {
	return [...]string{
		"SCHEDULED",
		"RUNNING",
		"FAILED",
		"SUCCESS",
		"UPSTREAM_FAILED",
	}[s]
}

func (s TaskStatus) CanProceed() bool {
	return s == TaskSuccess
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskUpstreamFailed
}

// ParseTaskStatus parses task status based on given string. If given string
// does not match any task status, then non-nil error is returned. Statuses are
// case-sensitive.
func ParseTaskStatus(s string) (TaskStatus, error) {
	states := map[string]TaskStatus{
		"SCHEDULED":       TaskScheduled,
		"RUNNING":         TaskRunning,
		"FAILED":          TaskFailed,
		"SUCCESS":         TaskSuccess,
		"UPSTREAM_FAILED": TaskUpstreamFailed,
	}
	if status, ok := states[s]; ok {
		return status, nil
	}
	return 0, fmt.Errorf("invalid TaskStatus: %s", s)
}

// Node represents single node (vertex) in the DAG.
type Node struct {
	Task     Task
	Config   TaskConfig
	Children []*Node
}

// NewNode initialize Node with given task and returns the reference. Task
// configuration starts from DefaultTaskConfig and is modified by given
// functions.
func NewNode(task Task, opts ...TaskConfigFunc) *Node {
	config := DefaultTaskConfig
	for _, opt := range opts {
		opt(&config)
	}
	n := Node{
		Task:     task,
		Config:   config,
		Children: make([]*Node, 0),
	}
	return &n
}

// Next adds given node as a child and returns it's reference. That means Next
// can be chained (eg: n1.Next(n2).Next(n3)...).
func (dn *Node) Next(node *Node) *Node {
	if dn.Children == nil {
		dn.Children = make([]*Node, 0)
	}
	dn.Children = append(dn.Children, node)
	return node
}

// NextTask wraps given task into a Node and calls regular Next method. It
// exists mainly for shorter notation.
func (dn *Node) NextTask(task Task, opts ...TaskConfigFunc) *Node {
	return dn.Next(NewNode(task, opts...))
}

// NextAsyncAndMerge adds given slice of nodes as children which then have one
// shared child (mergeNode). That shared child reference is returned. That
// situation can be visualized like this:
//
//	      an[0]
//	    /       \
//	dn -- an[1] ---- mergeNode
//	    \       /
//	      an[N]
func (dn *Node) NextAsyncAndMerge(asyncNodes []*Node, mergeNode *Node) *Node {
	for _, an := range asyncNodes {
		dn.Next(an).Next(mergeNode)
	}
	return mergeNode
}

// NodeInfo represents enriched information about node in the DAG. Depth is
// the length of the longest path from any root (roots have depth 1).
type NodeInfo struct {
	Node    *Node
	Depth   int
	Parents []*Node
}

// Walks the graph from given roots and collects parents of every reachable
// node. Nodes are listed in order of first discovery.
func collect(roots []*Node) ([]*Node, map[*Node][]*Node) {
	var order []*Node
	parents := make(map[*Node][]*Node)
	seen := make(map[*Node]struct{})
	stack := make([]*Node, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		order = append(order, n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			child := n.Children[i]
			stack = append(stack, child)
		}
	}
	for _, n := range order {
		for _, child := range n.Children {
			parents[child] = append(parents[child], n)
		}
	}
	return order, parents
}

// Checks whether the graph reachable from roots has no cycles.
func isAcyclic(roots []*Node) bool {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*Node]int)
	var visit func(n *Node, depth int) bool
	visit = func(n *Node, depth int) bool {
		if depth > MAX_RECURSION {
			return false
		}
		switch state[n] {
		case visiting:
			return false
		case done:
			return true
		}
		state[n] = visiting
		for _, child := range n.Children {
			if !visit(child, depth+1) {
				return false
			}
		}
		state[n] = done
		return true
	}
	for _, root := range roots {
		if !visit(root, 1) {
			return false
		}
	}
	return true
}

// Flattens acyclic graph into topologically sorted list of NodeInfo. Nodes of
// smaller depth come first; within the same depth the discovery order is
// kept. Result does not contain duplicates.
func flatten(roots []*Node) []NodeInfo {
	order, parents := collect(roots)
	depth := make(map[*Node]int, len(order))
	var depthOf func(n *Node, guard int) int
	depthOf = func(n *Node, guard int) int {
		if d, ok := depth[n]; ok {
			return d
		}
		d := 1
		if guard < MAX_RECURSION {
			for _, p := range parents[n] {
				if pd := depthOf(p, guard+1) + 1; pd > d {
					d = pd
				}
			}
		}
		depth[n] = d
		return d
	}
	maxDepth := 0
	for _, n := range order {
		if d := depthOf(n, 0); d > maxDepth {
			maxDepth = d
		}
	}
	ni := make([]NodeInfo, 0, len(order))
	for level := 1; level <= maxDepth; level++ {
		for _, n := range order {
			if depth[n] == level {
				ni = append(ni, NodeInfo{Node: n, Depth: level, Parents: parents[n]})
			}
		}
	}
	return ni
}

func (n *Node) String(ident int) string {
	var s strings.Builder
	return n.stringRec(&s, ident)
}

func (n *Node) stringRec(s *strings.Builder, depth int) string {
	const indent = 2
	s.WriteString(strings.Repeat(" ", depth*indent))
	fmt.Fprintf(s, "-%s\n", n.Task.Id())
	for _, ch := range n.Children {
		ch.stringRec(s, depth+1)
	}
	return s.String()
}
