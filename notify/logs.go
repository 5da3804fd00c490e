package notify

import (
	"bytes"
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogsErr is a notification client which "sends" notification as logs of
// severity ERROR. It implements Sender interface. It's the default sender
// when no other channel of communication is configured.
type LogsErr struct {
	logger zerolog.Logger
}

// NewLogsErr instantiate new LogsErr for given logger. If logger is nil, the
// global zerolog logger is used.
func NewLogsErr(logger *zerolog.Logger) *LogsErr {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogsErr{logger: *logger}
}

// Send sends given message as a log of severity ERROR.
func (l *LogsErr) Send(_ context.Context, tmpl Template, data MsgData) error {
	var msgBuff bytes.Buffer
	writeErr := tmpl.Execute(&msgBuff, data)
	if writeErr != nil {
		return writeErr
	}
	event := l.logger.Error().Str("dagId", data.DagId).Str("runId", data.RunId)
	if data.TaskId != nil {
		event = event.Str("taskId", *data.TaskId)
	}
	event.Msg(msgBuff.String())
	return nil
}
