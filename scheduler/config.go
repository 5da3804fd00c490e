package scheduler

import "time"

// Config represents main configuration for the Scheduler.
type Config struct {
	// Startup timeout duration. When scheduler call Start, it marks DAG runs
	// left unfinished by previous process as failed. This duration interval
	// is setup in that operation context.
	StartupContextTimeout time.Duration

	// How long Start waits for the active DAG run to finish after its context
	// is cancelled.
	ShutdownTimeout time.Duration

	// Number of finished DAG runs details kept in memory for the HTTP API.
	FinishedRunCacheLen int

	// Upper limit for n in GET /dag/run/latest/{n}.
	MaxLatestRuns int
}

// Default Scheduler configuration.
var DefaultConfig Config = Config{
	StartupContextTimeout: 30 * time.Second,
	ShutdownTimeout:       time.Minute,
	FinishedRunCacheLen:   100,
	MaxLatestRuns:         1000,
}

// ClientConfig configures Scheduler HTTP client.
type ClientConfig struct {
	HttpClientTimeout time.Duration
}

// Default Scheduler client configuration.
var DefaultClientConfig ClientConfig = ClientConfig{
	HttpClientTimeout: 30 * time.Second,
}

// Zero values are replaced by DefaultConfig values.
func (c Config) withDefaults() Config {
	if c.StartupContextTimeout <= 0 {
		c.StartupContextTimeout = DefaultConfig.StartupContextTimeout
	}
	if c.FinishedRunCacheLen <= 0 {
		c.FinishedRunCacheLen = DefaultConfig.FinishedRunCacheLen
	}
	if c.MaxLatestRuns <= 0 {
		c.MaxLatestRuns = DefaultConfig.MaxLatestRuns
	}
	return c
}
