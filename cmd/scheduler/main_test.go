package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/meltinfra/bootstrap/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Setenv("MELT_LOG_LEVEL", "debug")
	cfg, err := ParseConfig([]string{"-config", "melt.hcl", "-once"})
	require.NoError(t, err)
	assert.Equal(t, "melt.hcl", cfg.ConfigPath)
	assert.True(t, cfg.Once)
	assert.Empty(t, cfg.TriggerUrl)
	assert.Equal(t, zerolog.DebugLevel, cfg.Logger.Level)
	assert.False(t, cfg.Logger.UseConsoleWriter)

	_, err = ParseConfig([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestOpenDb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	c, err := openDb(config.Database{Driver: config.DriverSqlite, Path: path})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = openDb(config.Database{Driver: "mysql"})
	assert.Error(t, err)
}

func TestTriggerExitCodes(t *testing.T) {
	data := []struct {
		status   int
		body     string
		expected int
	}{
		{http.StatusAccepted, `{"runId": "r1"}`, 0},
		{http.StatusConflict, `{"error": "in progress"}`, 3},
		{http.StatusInternalServerError, `oops`, 1},
	}
	for _, d := range data {
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(d.status)
				w.Write([]byte(d.body))
			}))
		assert.Equal(t, d.expected, trigger(server.URL), "status %d", d.status)
		server.Close()
	}
}

func TestRunOnceFailsWithoutAirbyte(t *testing.T) {
	airbyte := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	defer airbyte.Close()

	appCfg := config.Default()
	appCfg.Database.Path = filepath.Join(t.TempDir(), "runs.db")
	appCfg.Airbyte.URL = airbyte.URL
	appCfg.Postgres.Host = "127.0.0.1"
	appCfg.Postgres.Port = 1
	appCfg.Secrets = config.Secrets{}
	appCfg.Retry.Airbyte.Limit = 0
	appCfg.Retry.Postgres.Limit = 0

	code := run(context.Background(), Config{Once: true}, appCfg)
	assert.Equal(t, 1, code)
}
