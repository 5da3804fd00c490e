package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/meltinfra/bootstrap/pace"
	"github.com/meltinfra/bootstrap/secret"
	"github.com/zclconf/go-cty/cty"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Raw HCL representation. Pointers mark values which were not set in the file.
type fileRoot struct {
	DagId    *string        `hcl:"dag_id,optional"`
	Schedule *scheduleBlock `hcl:"schedule,block"`
	Server   *serverBlock   `hcl:"server,block"`
	Database *databaseBlock `hcl:"database,block"`
	Airbyte  *airbyteBlock  `hcl:"airbyte,block"`
	Postgres *postgresBlock `hcl:"postgres,block"`
	Secrets  *secretsBlock  `hcl:"secrets,block"`
	Retries  []retryBlock   `hcl:"retry,block"`
}

type scheduleBlock struct {
	Cron     *string `hcl:"cron,optional"`
	Interval *string `hcl:"interval,optional"`
	Timezone *string `hcl:"timezone,optional"`
	Start    *string `hcl:"start,optional"`
}

type serverBlock struct {
	Addr             *string `hcl:"addr,optional"`
	ShutdownTimeout  *string `hcl:"shutdown_timeout,optional"`
	MaxParallelTasks *int    `hcl:"max_parallel_tasks,optional"`
}

type databaseBlock struct {
	Driver *string `hcl:"driver,optional"`
	Path   *string `hcl:"path,optional"`
	DSN    *string `hcl:"dsn,optional"`
	Name   *string `hcl:"name,optional"`
}

type airbyteBlock struct {
	URL                 *string `hcl:"url,optional"`
	Workspace           *string `hcl:"workspace,optional"`
	Source              *string `hcl:"source,optional"`
	FakerCount          *int    `hcl:"faker_count,optional"`
	Destination         *string `hcl:"destination,optional"`
	DestinationSSLMode  *string `hcl:"destination_ssl_mode,optional"`
	DestinationSchema   *string `hcl:"destination_schema,optional"`
	Connection          *string `hcl:"connection,optional"`
	ConnectionNamespace *string `hcl:"connection_namespace,optional"`
	RequestTimeout      *string `hcl:"request_timeout,optional"`
}

type postgresBlock struct {
	Host     *string     `hcl:"host,optional"`
	Port     *int        `hcl:"port,optional"`
	Database *string     `hcl:"database,optional"`
	Username *string     `hcl:"username,optional"`
	SSLMode  *string     `hcl:"ssl_mode,optional"`
	Password *secret.Ref `hcl:"password_secret,block"`
}

type secretsBlock struct {
	Dir       *string `hcl:"dir,optional"`
	EnvPrefix *string `hcl:"env_prefix,optional"`
}

type retryBlock struct {
	Name    string   `hcl:"name,label"`
	Initial *string  `hcl:"initial,optional"`
	Factor  *float64 `hcl:"factor,optional"`
	Max     *string  `hcl:"max,optional"`
	Limit   *int     `hcl:"limit,optional"`
}

// Load reads HCL configuration file and applies it on top of Default.
func Load(path string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(path, file.Body)
}

// Parse is like Load but reads configuration from given source.
func Parse(filename string, src []byte) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL %s: %w", filename, diags)
	}
	return decode(filename, file.Body)
}

func decode(filename string, body hcl.Body) (Config, error) {
	var root fileRoot
	diags := gohcl.DecodeBody(body, evalContext(), &root)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode HCL %s: %w", filename, diags)
	}
	cfg := Default()
	if err := root.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Variables available in expressions. Only env is exposed at the moment.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func (r fileRoot) apply(cfg *Config) error {
	setStr(&cfg.DagId, r.DagId)
	if s := r.Schedule; s != nil {
		if s.Cron != nil || s.Interval != nil {
			cfg.Schedule.Cron = ""
		}
		setStr(&cfg.Schedule.Cron, s.Cron)
		if err := setDuration(&cfg.Schedule.Interval, s.Interval, "schedule.interval"); err != nil {
			return err
		}
		setStr(&cfg.Schedule.Timezone, s.Timezone)
		if s.Start != nil {
			start, err := time.Parse(time.RFC3339, *s.Start)
			if err != nil {
				return fmt.Errorf("schedule.start: %w", err)
			}
			cfg.Schedule.Start = start
		}
	}
	if s := r.Server; s != nil {
		setStr(&cfg.Server.Addr, s.Addr)
		if err := setDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
			return err
		}
		setInt(&cfg.Server.MaxParallelTasks, s.MaxParallelTasks)
	}
	if d := r.Database; d != nil {
		setStr(&cfg.Database.Driver, d.Driver)
		setStr(&cfg.Database.Path, d.Path)
		setStr(&cfg.Database.DSN, d.DSN)
		setStr(&cfg.Database.Name, d.Name)
	}
	if a := r.Airbyte; a != nil {
		setStr(&cfg.Airbyte.URL, a.URL)
		setStr(&cfg.Airbyte.Workspace, a.Workspace)
		setStr(&cfg.Airbyte.Source, a.Source)
		setInt(&cfg.Airbyte.FakerCount, a.FakerCount)
		setStr(&cfg.Airbyte.Destination, a.Destination)
		setStr(&cfg.Airbyte.DestinationSSLMode, a.DestinationSSLMode)
		setStr(&cfg.Airbyte.DestinationSchema, a.DestinationSchema)
		setStr(&cfg.Airbyte.Connection, a.Connection)
		setStr(&cfg.Airbyte.ConnectionNamespace, a.ConnectionNamespace)
		if err := setDuration(&cfg.Airbyte.RequestTimeout, a.RequestTimeout, "airbyte.request_timeout"); err != nil {
			return err
		}
		cfg.Airbyte.URL = strings.TrimRight(cfg.Airbyte.URL, "/")
	}
	if p := r.Postgres; p != nil {
		setStr(&cfg.Postgres.Host, p.Host)
		setInt(&cfg.Postgres.Port, p.Port)
		setStr(&cfg.Postgres.Database, p.Database)
		setStr(&cfg.Postgres.Username, p.Username)
		setStr(&cfg.Postgres.SSLMode, p.SSLMode)
		if p.Password != nil {
			cfg.Postgres.Password = *p.Password
		}
	}
	if s := r.Secrets; s != nil {
		setStr(&cfg.Secrets.Dir, s.Dir)
		setStr(&cfg.Secrets.EnvPrefix, s.EnvPrefix)
	}
	for _, rb := range r.Retries {
		policy, err := retryTarget(&cfg.Retry, rb.Name)
		if err != nil {
			return err
		}
		if err := rb.apply(policy); err != nil {
			return err
		}
	}
	return nil
}

func retryTarget(r *Retry, name string) (*pace.RetryPolicy, error) {
	switch name {
	case "airbyte":
		return &r.Airbyte, nil
	case "postgres":
		return &r.Postgres, nil
	case "wait_for_load":
		return &r.WaitForLoad, nil
	}
	return nil, fmt.Errorf("unknown retry policy %q, expected one of: airbyte, postgres, wait_for_load", name)
}

func (rb retryBlock) apply(policy *pace.RetryPolicy) error {
	prefix := "retry." + rb.Name
	if err := setDuration(&policy.Initial, rb.Initial, prefix+".initial"); err != nil {
		return err
	}
	if err := setDuration(&policy.Max, rb.Max, prefix+".max"); err != nil {
		return err
	}
	if rb.Factor != nil {
		policy.Factor = *rb.Factor
	}
	setInt(&policy.Limit, rb.Limit)
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
