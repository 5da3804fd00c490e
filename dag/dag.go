// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

/*
Package dag provides DAG definition and related functionalities.

# Introduction

Dag is a set of tasks connected by dependencies, together with a schedule and
DAG-wide constants. Tasks declare their inputs as parameters (Literal, Const
and OutputOf), so data flows only from ancestors to descendants. Validate
checks all of that before the DAG is scheduled.

# Creating new DAG

	pgReady := dag.NewNode(storeReadyTask)
	abReady := dag.NewNode(airbyteReadyTask)
	workspace := abReady.NextTask(workspaceTask)
	...
	d := dag.New("melt-bootstrap").
		AddSchedule(schedule.MustParseCron("0 0-23/2 * * *")).
		AddRoot(pgReady).
		AddRoot(abReady).
		AddConsts(map[string]string{"workspaceName": "melt"}).
		Done()
	if err := d.Validate(); err != nil {
		...
	}
*/
package dag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/meltinfra/bootstrap/dag/schedule"
)

var (
	ErrTaskNotFoundInDag = errors.New("task was not found in the DAG")
	ErrNoRoots           = errors.New("DAG has no root tasks")
	ErrCyclicDag         = errors.New("DAG has a cycle or is too deep")
	ErrDuplicateTaskId   = errors.New("task identifiers are not unique")
	ErrInvalidParam      = errors.New("invalid task parameter")
)

// Dag represents a single process that can be scheduled. It contains metadata
// of the process like identifiers, its schedule, constants and pointers to
// root nodes of the graph of tasks.
//
// Recommended way to create new Dag is to use provided fluent API:
//
//	myDag := New(Id("sample_dag")).
//	  AddSchedule(schedule.MustParseCron("0 0-23/2 * * *")).
//	  AddRoot(&root).
//	  AddAttributes(Attr{Tags: []string{"elt"}}).
//	  Done()
type Dag struct {
	Id       Id
	Schedule schedule.Schedule
	Attr     Attr
	Roots    []*Node
	Consts   map[string]string
}

// DAG string identifier.
type Id string

// Attr represents additional attributes of the Dag.
type Attr struct {
	Tags []string `json:"tags"`

	// Maximum number of tasks running at the same time within single DAG run.
	// Zero means no limit.
	MaxParallelTasks int `json:"maxParallelTasks"`
}

// New creates new Dag instance for given DAG identifier.
func New(id Id) *Dag {
	return &Dag{
		Id:     id,
		Consts: map[string]string{},
	}
}

// AddRoot adds given node as one of the Dag roots.
func (d *Dag) AddRoot(node *Node) *Dag {
	d.Roots = append(d.Roots, node)
	return d
}

// AddSchedule adds Dag schedule.
func (d *Dag) AddSchedule(sched schedule.Schedule) *Dag {
	d.Schedule = sched
	return d
}

// AddAttributes adds Dag attributes.
func (d *Dag) AddAttributes(attr Attr) *Dag {
	d.Attr = attr
	return d
}

// AddConsts adds DAG-wide constants available to tasks via Const parameters.
func (d *Dag) AddConsts(consts map[string]string) *Dag {
	for k, v := range consts {
		d.Consts[k] = v
	}
	return d
}

// Done returns self Dag instance. It's meant to that after calling this method
// our Dag is defined and shouldn't really by modified further.
func (d *Dag) Done() Dag {
	return *d
}

// Validate checks that Dag can be scheduled. The following conditions has to
// be met:
//   - there is at least one root
//   - graph is acyclic and no deeper than MAX_RECURSION
//   - task identifiers are unique within the graph
//   - every Const parameter references existing constant
//   - every OutputOf parameter references a task which is an ancestor of the
//     task using it
func (d *Dag) Validate() error {
	if len(d.Roots) == 0 {
		return ErrNoRoots
	}
	for _, root := range d.Roots {
		if root == nil || root.Task == nil {
			return fmt.Errorf("%w: nil root node", ErrNoRoots)
		}
	}
	if !isAcyclic(d.Roots) {
		return ErrCyclicDag
	}
	nodes := flatten(d.Roots)
	byId := make(map[string]*Node, len(nodes))
	for _, ni := range nodes {
		if ni.Node.Task == nil {
			return fmt.Errorf("%w: node without a task", ErrInvalidParam)
		}
		id := ni.Node.Task.Id()
		if _, exists := byId[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskId, id)
		}
		byId[id] = ni.Node
	}
	ancestors := ancestorIds(nodes)
	for _, ni := range nodes {
		taskId := ni.Node.Task.Id()
		for _, p := range ni.Node.Task.Params() {
			if err := d.validateParam(taskId, p, byId, ancestors[ni.Node]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dag) validateParam(
	taskId string, p Param, byId map[string]*Node, ancestors map[string]struct{},
) error {
	switch p.Kind {
	case LiteralParam:
		return nil
	case ConstParam:
		if _, exists := d.Consts[p.Value]; !exists {
			return fmt.Errorf("%w: task %s: %w %q", ErrInvalidParam, taskId,
				ErrUnknownConst, p.Value)
		}
		return nil
	case OutputParam:
		if _, exists := byId[p.Value]; !exists {
			return fmt.Errorf("%w: task %s references output of %w: %s",
				ErrInvalidParam, taskId, ErrTaskNotFoundInDag, p.Value)
		}
		if _, isAncestor := ancestors[p.Value]; !isAncestor {
			return fmt.Errorf("%w: task %s references output of %s which is not its ancestor",
				ErrInvalidParam, taskId, p.Value)
		}
		return nil
	}
	return fmt.Errorf("%w: task %s: unknown kind %d", ErrInvalidParam, taskId, p.Kind)
}

// Transitive ancestors task ids for every node. Nodes has to be in
// topological order.
func ancestorIds(nodes []NodeInfo) map[*Node]map[string]struct{} {
	ancestors := make(map[*Node]map[string]struct{}, len(nodes))
	for _, ni := range nodes {
		set := make(map[string]struct{})
		for _, parent := range ni.Parents {
			set[parent.Task.Id()] = struct{}{}
			for id := range ancestors[parent] {
				set[id] = struct{}{}
			}
		}
		ancestors[ni.Node] = set
	}
	return ancestors
}

// IsValid is a shortcut for Validate() == nil.
func (d *Dag) IsValid() bool {
	return d.Validate() == nil
}

// GetTask return task by its identifier. In case when there is no Task within
// the DAG of given taskId, then non-nil error will be returned
// (ErrTaskNotFoundInDag).
func (d *Dag) GetTask(taskId string) (Task, error) {
	for _, ni := range d.FlattenNodes() {
		if ni.Node.Task.Id() == taskId {
			return ni.Node.Task, nil
		}
	}
	return nil, ErrTaskNotFoundInDag
}

// Flatten DAG into list of Tasks in topological order.
func (d *Dag) Flatten() []Task {
	nodesInfo := d.FlattenNodes()
	tasks := make([]Task, len(nodesInfo))
	for idx, ni := range nodesInfo {
		tasks[idx] = ni.Node.Task
	}
	return tasks
}

// FlattenNodes flatten DAG into list of Nodes with enriched information in
// topological order. For cyclic graphs empty list is returned.
func (d *Dag) FlattenNodes() []NodeInfo {
	if len(d.Roots) == 0 || !isAcyclic(d.Roots) {
		return []NodeInfo{}
	}
	return flatten(d.Roots)
}

// TaskParents returns mapping of DAG task IDs onto its parents task IDs.
func (d *Dag) TaskParents() map[string][]string {
	nodesInfo := d.FlattenNodes()
	taskParents := make(map[string][]string, len(nodesInfo))
	for _, ni := range nodesInfo {
		parentTaskIds := make([]string, 0, len(ni.Parents))
		for _, parent := range ni.Parents {
			parentTaskIds = append(parentTaskIds, parent.Task.Id())
		}
		sort.Strings(parentTaskIds)
		taskParents[ni.Node.Task.Id()] = parentTaskIds
	}
	return taskParents
}

// String return string with information about Dag Id, its schedule and tasks.
func (d *Dag) String() string {
	sched := "no schedule"
	if d.Schedule != nil {
		sched = d.Schedule.String()
	}
	var tasks strings.Builder
	for _, root := range d.Roots {
		tasks.WriteString(root.String(0))
	}
	return fmt.Sprintf("Dag: %s (%s)\nTasks:\n%s", d.Id, sched, tasks.String())
}
