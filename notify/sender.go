// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package notify provides a way to report failed pipeline runs.
package notify

import (
	"context"
	"io"
)

// Template represents a message template. Go standard text/template.Template
// and html/template.Template satisfy this interface.
type Template interface {
	Execute(io.Writer, any) error
}

// Sender sends a notification. Usually onto an external channel of
// communication. Template should be already parsed text template which can use
// additional information from MsgData.
type Sender interface {
	Send(context.Context, Template, MsgData) error
}

// MsgData contains a DAG run contextual information.
type MsgData struct {
	DagId        string
	RunId        string
	ExecTs       string
	TaskId       *string
	TaskRunError error
	RuntimeInfo  map[string]any
}
