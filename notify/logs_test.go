package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"text/template"

	"github.com/rs/zerolog"
)

func TestLogsErrSimple(t *testing.T) {
	ctx := context.Background()
	task1 := "define-faker-source"

	var buffor bytes.Buffer
	logger := zerolog.New(&buffor)
	logsErr := NewLogsErr(&logger)

	inputs := []struct {
		taskId *string
	}{
		{&task1},
		{nil},
	}

	for _, input := range inputs {
		err := logsErr.Send(ctx, DefaultFailureTemplate(), MsgData{
			DagId:        "melt-bootstrap",
			RunId:        "r-1",
			ExecTs:       "2024-06-08T22:10:00Z",
			TaskId:       input.taskId,
			TaskRunError: errors.New("connection refused"),
		})
		if err != nil {
			t.Errorf("Error while sending notification for [%v]: %s",
				input, err.Error())
		}
	}

	lines := nonEmptyLines(buffor.String())
	if len(lines) != len(inputs) {
		t.Fatalf("Expected %d notifications, got: %d", len(inputs), len(lines))
	}

	for idx, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Cannot parse log line [%s]: %s", line, err.Error())
		}
		if entry["level"] != "error" {
			t.Errorf("Expected error severity in log notification [%s]", line)
		}
		if entry["runId"] != "r-1" {
			t.Errorf("Expected runId field in log notification [%s]", line)
		}
		_, hasTaskId := entry["taskId"]
		if hasTaskId != (inputs[idx].taskId != nil) {
			t.Errorf("Unexpected taskId field presence in [%s]", line)
		}
		msg, _ := entry["message"].(string)
		if !strings.Contains(msg, "connection refused") {
			t.Errorf("Expected error in notification message, got [%s]", msg)
		}
	}
}

func TestLogsErrTemplateError(t *testing.T) {
	logger := zerolog.Nop()
	tmpl := template.Must(template.New("x").Parse("{{.NoSuchField}}"))
	err := NewLogsErr(&logger).Send(context.Background(), tmpl, MsgData{})
	if err == nil {
		t.Error("Expected error for template referencing unknown field")
	}
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
