// Package config loads bootstrap scheduler configuration from HCL files.
//
// Every block and attribute is optional. Missing values fall back to Default,
// which reflects the reference deployment: Airbyte and Postgres running in the
// same cluster, pipeline scheduled every two hours. Expressions can read
// environment variables through the env object, for example:
//
//	database {
//	  driver = "postgres"
//	  dsn    = env.MELT_DB_DSN
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/meltinfra/bootstrap/dag/schedule"
	"github.com/meltinfra/bootstrap/pace"
	"github.com/meltinfra/bootstrap/secret"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is fully resolved configuration of the scheduler process.
type Config struct {
	DagId    string
	Schedule Schedule
	Server   Server
	Database Database
	Airbyte  Airbyte
	Postgres Postgres
	Secrets  Secrets
	Retry    Retry
}

// Schedule of the pipeline. Exactly one of Cron and Interval is set.
type Schedule struct {
	Cron     string
	Interval time.Duration
	Timezone string
	Start    time.Time
}

// Build creates schedule.Schedule out of the configuration.
func (s Schedule) Build() (schedule.Schedule, error) {
	if s.Interval > 0 {
		start := s.Start
		if start.IsZero() {
			start = time.Now()
		}
		return schedule.NewFixed(start, s.Interval)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", s.Timezone, err)
	}
	c, err := schedule.ParseCron(s.Cron)
	if err != nil {
		return nil, err
	}
	if !s.Start.IsZero() {
		c.Starts(s.Start)
	}
	return c.In(loc), nil
}

type Server struct {
	Addr             string
	ShutdownTimeout  time.Duration
	MaxParallelTasks int
}

// Database where DAG runs are archived.
type Database struct {
	Driver string
	Path   string
	DSN    string
	Name   string
}

// Airbyte API location and names of provisioned resources.
type Airbyte struct {
	URL                 string
	Workspace           string
	Source              string
	FakerCount          int
	Destination         string
	DestinationSSLMode  string
	DestinationSchema   string
	Connection          string
	ConnectionNamespace string
	RequestTimeout      time.Duration
}

// Postgres is the warehouse Airbyte loads data into. SSLMode is used only by
// the readiness check, so it has to be one of the modes lib/pq supports.
type Postgres struct {
	Host     string
	Port     int
	Database string
	Username string
	SSLMode  string
	Password secret.Ref
}

// Secrets configures where secret references are resolved. Resolvers are
// consulted in order: environment variables, then directory.
type Secrets struct {
	Dir       string
	EnvPrefix string
}

// Resolver builds secret.Resolver for the configuration.
func (s Secrets) Resolver() secret.Resolver {
	chain := secret.Chain{}
	if s.EnvPrefix != "" {
		chain = append(chain, secret.Env{Prefix: s.EnvPrefix})
	}
	if s.Dir != "" {
		chain = append(chain, secret.Dir{Root: s.Dir})
	}
	return chain
}

// Retry policies of probing tasks.
type Retry struct {
	Airbyte     pace.RetryPolicy
	Postgres    pace.RetryPolicy
	WaitForLoad pace.RetryPolicy
}

// Default returns configuration used when nothing else is set.
func Default() Config {
	return Config{
		DagId: "melt-bootstrap",
		Schedule: Schedule{
			Cron:     "0 */2 * * *",
			Timezone: "UTC",
		},
		Server: Server{
			Addr:            ":9321",
			ShutdownTimeout: 10 * time.Minute,
		},
		Database: Database{
			Driver: DriverSqlite,
			Path:   "melt-bootstrap.db",
			Name:   "melt_bootstrap",
		},
		Airbyte: Airbyte{
			URL:                 "http://airbyte-airbyte-server-svc:8001/api/public",
			Workspace:           "melt",
			Source:              "faker",
			FakerCount:          1000,
			Destination:         "postgres",
			DestinationSSLMode:  "prefer",
			DestinationSchema:   "public",
			Connection:          "faker-to-postgres",
			ConnectionNamespace: "faker",
			RequestTimeout:      30 * time.Second,
		},
		Postgres: Postgres{
			Host:     "melt-postgres-postgresql",
			Port:     5432,
			Database: "melt",
			Username: "melt",
			SSLMode:  "disable",
			Password: secret.Ref{Store: "melt-postgres", Key: "meltPassword"},
		},
		Secrets: Secrets{
			Dir:       "/var/run/secrets/melt",
			EnvPrefix: "MELT_SECRET_",
		},
		Retry: Retry{
			Airbyte:  pace.DefaultRetryPolicy,
			Postgres: pace.DefaultRetryPolicy,
			WaitForLoad: pace.RetryPolicy{
				Initial: pace.DefaultRetryPolicy.Initial,
				Factor:  pace.DefaultRetryPolicy.Factor,
				Max:     pace.DefaultRetryPolicy.Max,
				Limit:   10,
			},
		},
	}
}

// Validate checks configuration consistency.
func (c Config) Validate() error {
	var problems []string
	if c.DagId == "" {
		problems = append(problems, "dag_id cannot be empty")
	}
	if (c.Schedule.Cron == "") == (c.Schedule.Interval <= 0) {
		problems = append(problems,
			"schedule requires exactly one of cron and interval")
	}
	switch c.Database.Driver {
	case DriverSqlite:
		if c.Database.Path == "" {
			problems = append(problems, "database path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			problems = append(problems, "database dsn is required for postgres")
		}
	default:
		problems = append(problems,
			fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Airbyte.URL == "" {
		problems = append(problems, "airbyte url cannot be empty")
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		problems = append(problems,
			fmt.Sprintf("postgres port out of range: %d", c.Postgres.Port))
	}
	if err := c.Postgres.Password.Validate(); err != nil {
		problems = append(problems, "postgres password: "+err.Error())
	}
	policies := map[string]pace.RetryPolicy{
		"airbyte":       c.Retry.Airbyte,
		"postgres":      c.Retry.Postgres,
		"wait_for_load": c.Retry.WaitForLoad,
	}
	for _, name := range []string{"airbyte", "postgres", "wait_for_load"} {
		if err := policies[name].Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("retry %s: %s", name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
