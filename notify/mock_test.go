package notify

import (
	"context"
	"errors"
	"testing"
	"text/template"
)

func TestMockSendManyTmpl(t *testing.T) {
	ctx := context.Background()

	msgs := make([]string, 0, 10)
	sender := NewMock(&msgs)

	inputs := []struct {
		tmplStr  string
		data     MsgData
		expected string
	}{
		{"CONST MOCK", MsgData{}, "CONST MOCK"},
		{
			"Hello from {{.DagId}}",
			MsgData{DagId: "my_dag"},
			"Hello from my_dag",
		},
		{
			"{{.DagId}}|{{.RunId}}",
			MsgData{DagId: "my_dag", RunId: "r-1"},
			"my_dag|r-1",
		},
		{
			`Alert for {{.DagId}}
				{{- if .TaskRunError}} Error: {{.TaskRunError.Error}}{{- end}}`,
			MsgData{DagId: "my_dag", TaskRunError: errors.New("ops!")},
			`Alert for my_dag Error: ops!`,
		},
	}

	for _, input := range inputs {
		tmpl, parseErr := template.New("tmp").Parse(input.tmplStr)
		if parseErr != nil {
			t.Fatalf("Error while parsing template [%s]: %s", input.tmplStr,
				parseErr.Error())
		}
		sErr := sender.Send(ctx, tmpl, input.data)
		if sErr != nil {
			t.Errorf("Error while sending a message: %s", sErr.Error())
		}
	}

	sent := sender.Messages()
	if len(sent) != len(inputs) {
		t.Fatalf("Expected %d messages sent, but got: %d", len(inputs),
			len(sent))
	}
	for idx, input := range inputs {
		if input.expected != sent[idx] {
			t.Errorf("For message %d, expected [%s], but got [%s]",
				idx, input.expected, sent[idx])
		}
	}
}

func TestDefaultFailureTemplate(t *testing.T) {
	msgs := make([]string, 0, 1)
	sender := NewMock(&msgs)
	taskId := "wait-for-load"
	err := sender.Send(context.Background(), DefaultFailureTemplate(), MsgData{
		DagId:        "melt-bootstrap",
		RunId:        "r-7",
		ExecTs:       "2024-06-08T22:00:00Z",
		TaskId:       &taskId,
		TaskRunError: errors.New("retries exhausted"),
	})
	if err != nil {
		t.Fatal(err)
	}
	expected := "\nTask [wait-for-load] in DAG [melt-bootstrap] (run r-7) at " +
		"2024-06-08T22:00:00Z has failed.\nError:\n\tretries exhausted\n\n"
	if msgs[0] != expected {
		t.Errorf("Expected [%s], got [%s]", expected, msgs[0])
	}
}
