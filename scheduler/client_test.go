package scheduler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/meltinfra/bootstrap/api"
)

func TestClientTriggerStatusCodes(t *testing.T) {
	data := []struct {
		name          string
		status        int
		body          string
		expectErr     bool
		expectOverlap bool
		expectRunId   string
	}{
		{"accepted", http.StatusAccepted, `{"runId":"abc"}`, false, false, "abc"},
		{"conflict", http.StatusConflict, "run in progress", true, true, ""},
		{"server error", http.StatusInternalServerError, "boom", true, false, ""},
		{"invalid body", http.StatusAccepted, `{"runId":`, true, false, ""},
	}

	for _, d := range data {
		t.Run(d.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					if r.Method != http.MethodPost || r.URL.Path != "/dag/run/trigger" {
						t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
					}
					w.WriteHeader(d.status)
					w.Write([]byte(d.body))
				}))
			defer server.Close()

			client := NewClient(server.URL, nil, testLogger(), DefaultClientConfig)
			out, err := client.TriggerDagRun(api.DagRunTriggerInput{})
			if (err != nil) != d.expectErr {
				t.Fatalf("Expected error: %v, got: %v", d.expectErr, err)
			}
			if errors.Is(err, ErrRunInProgress) != d.expectOverlap {
				t.Errorf("Expected ErrRunInProgress: %v, got: %v", d.expectOverlap, err)
			}
			if out.RunId != d.expectRunId {
				t.Errorf("Expected runId %q, got %q", d.expectRunId, out.RunId)
			}
		})
	}
}

func TestClientUrls(t *testing.T) {
	var mu sync.Mutex
	paths := make([]string, 0)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths = append(paths, r.URL.EscapedPath())
			mu.Unlock()
			switch r.URL.Path {
			case "/state":
				w.Write([]byte(`{"status":"RUNNING","dagId":"melt"}`))
			case "/dag/run/latest/3":
				w.Write([]byte(`[]`))
			default:
				w.Write([]byte(`{"runId":"a b","tasks":[]}`))
			}
		}))
	defer server.Close()
	client := NewClient(server.URL, nil, testLogger(), DefaultClientConfig)

	state, err := client.GetState()
	if err != nil || state.Status != "RUNNING" || state.DagId != "melt" {
		t.Errorf("Unexpected state %+v (err: %v)", state, err)
	}
	if runs, err := client.LatestDagRuns(3); err != nil || len(runs) != 0 {
		t.Errorf("Unexpected latest runs %+v (err: %v)", runs, err)
	}
	if details, err := client.DagRunDetails("a b"); err != nil || details.RunId != "a b" {
		t.Errorf("Unexpected details %+v (err: %v)", details, err)
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{"/state", "/dag/run/latest/3", "/dag/run/a%20b"}
	if len(paths) != len(expected) {
		t.Fatalf("Expected paths %v, got %v", expected, paths)
	}
	for idx := range expected {
		if paths[idx] != expected[idx] {
			t.Errorf("Expected path %s, got %s", expected[idx], paths[idx])
		}
	}
}
