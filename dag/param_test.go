package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestTemplateRender(t *testing.T) {
	tmpl := NewTemplate(`{"workspaceId": "${ws}", "name": "${name}", "again": "${ws}"}`,
		map[string]Param{
			"ws":   OutputOf("define-workspace"),
			"name": Const("sourceName"),
		})
	rs := NewRunState(RunInfo{RunId: "r"}, map[string]string{"sourceName": "faker"},
		[]string{"define-workspace"})
	if err := rs.SetOutput("define-workspace", "ws-123"); err != nil {
		t.Fatal(err)
	}
	tc := NewTaskContext(context.Background(), zerolog.Nop(), rs)

	out, err := tc.Render(tmpl)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	expected := `{"workspaceId": "ws-123", "name": "faker", "again": "ws-123"}`
	if out != expected {
		t.Errorf("Expected %s, got %s", expected, out)
	}
	if len(tmpl.Params()) != 2 || tmpl.Params()[0].Kind != ConstParam {
		t.Errorf("Expected params sorted by name, got: %v", tmpl.Params())
	}
}

func TestTemplateMissingPlaceholder(t *testing.T) {
	tmpl := NewTemplate("/v1/jobs/${jobId}", nil)
	if err := tmpl.Validate(); !errors.Is(err, ErrMissingPlaceholder) {
		t.Errorf("Expected ErrMissingPlaceholder, got: %v", err)
	}
	_, err := tmpl.Render(func(Param) (string, error) { return "x", nil })
	if !errors.Is(err, ErrMissingPlaceholder) {
		t.Errorf("Expected ErrMissingPlaceholder from Render, got: %v", err)
	}
}

func TestTemplateResolveError(t *testing.T) {
	tmpl := NewTemplate("/v1/jobs/${jobId}", map[string]Param{
		"jobId": OutputOf("start-load"),
	})
	tc := NewTaskContext(context.Background(), zerolog.Nop(),
		NewRunState(RunInfo{}, nil, nil))
	if _, err := tc.Render(tmpl); !errors.Is(err, ErrOutputNotAvailable) {
		t.Errorf("Expected ErrOutputNotAvailable, got: %v", err)
	}
}

func TestTemplateWithoutPlaceholders(t *testing.T) {
	tmpl := NewTemplate("/health", nil)
	out, err := tmpl.Render(func(Param) (string, error) {
		return "", errors.New("should not be called")
	})
	if err != nil || out != "/health" {
		t.Errorf("Expected /health, got %q (err: %v)", out, err)
	}
}

func TestParamString(t *testing.T) {
	data := []struct {
		p        Param
		expected string
	}{
		{Literal("x"), `literal("x")`},
		{Const("ws"), "const(ws)"},
		{OutputOf("a"), "outputOf(a)"},
	}
	for _, d := range data {
		if d.p.String() != d.expected {
			t.Errorf("Expected %s, got %s", d.expected, d.p.String())
		}
	}
}
