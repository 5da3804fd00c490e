// Package pipeline defines the ELT bootstrap DAG. It waits for Postgres and
// Airbyte, provisions Airbyte workspace, faker source, Postgres destination
// and connection between them, then starts a sync job and waits until it
// succeeds.
//
//	ensure-postgres-is-ready ------------------------------+
//	                                                        v
//	ensure-airbyte-is-ready -> define-airbyte-workspace -> define-postgres-destination
//	                                    |                                 |
//	                                    v                                 v
//	                           define-faker-source -> define-faker-to-postgres-connection
//	                                                                      |
//	                                                      start-load -> wait-for-load
package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/meltinfra/bootstrap/config"
	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/metrics"
	"github.com/meltinfra/bootstrap/pace"
	"github.com/meltinfra/bootstrap/pathexpr"
	"github.com/meltinfra/bootstrap/probe"
	"github.com/meltinfra/bootstrap/readiness"
	"github.com/meltinfra/bootstrap/reconcile"
	"github.com/meltinfra/bootstrap/secret"
	"github.com/meltinfra/bootstrap/tasks"
	"github.com/rs/zerolog"
)

// Task identifiers.
const (
	TaskPostgresReady = "ensure-postgres-is-ready"
	TaskAirbyteReady  = "ensure-airbyte-is-ready"
	TaskWorkspace     = "define-airbyte-workspace"
	TaskSource        = "define-faker-source"
	TaskDestination   = "define-postgres-destination"
	TaskConnection    = "define-faker-to-postgres-connection"
	TaskStartLoad     = "start-load"
	TaskWaitForLoad   = "wait-for-load"
)

// Names of DAG constants.
const (
	ConstAirbyteURL          = "airbyteUrl"
	ConstWorkspaceName       = "workspaceName"
	ConstSourceName          = "sourceName"
	ConstFakerCount          = "fakerCount"
	ConstDestinationName     = "destinationName"
	ConstDestinationSSLMode  = "destinationSslMode"
	ConstDestinationSchema   = "destinationSchema"
	ConstConnectionName      = "connectionName"
	ConstConnectionNamespace = "connectionNamespace"
	ConstPostgresHost        = "postgresHost"
	ConstPostgresPort        = "postgresPort"
	ConstPostgresDatabase    = "postgresDatabase"
	ConstPostgresUsername    = "postgresUsername"
)

const defaultConnectTimeout = 10 * time.Second

// Deps are collaborators of pipeline tasks. Every field is optional.
type Deps struct {
	// HTTP client for Airbyte API calls. By default a client with
	// Airbyte.RequestTimeout is used.
	HTTPClient *http.Client

	// Resolver of secret references. Defaults to resolver built from the
	// Secrets configuration.
	Secrets secret.Resolver

	// Checker of Postgres readiness. Defaults to readiness.PostgresChecker.
	Checker readiness.Checker

	// Metrics for probe retries. Retries are not counted when nil.
	Metrics *metrics.Metrics

	Logger *zerolog.Logger
}

// Build creates validated bootstrap DAG for given configuration.
func Build(cfg config.Config, deps Deps) (dag.Dag, error) {
	deps = deps.withDefaults(cfg)
	sched, err := cfg.Schedule.Build()
	if err != nil {
		return dag.Dag{}, err
	}
	b := builder{cfg: cfg, deps: deps}
	b.reconciler = reconcile.New(deps.HTTPClient, deps.Secrets, deps.Logger)

	pgReady := dag.NewNode(b.postgresReady(),
		dag.WithTaskTimeout(b.timeout(cfg.Retry.Postgres, defaultConnectTimeout)))
	airbyteReady := dag.NewNode(b.airbyteReady(),
		dag.WithTaskTimeout(b.timeout(cfg.Retry.Airbyte, cfg.Airbyte.RequestTimeout)))
	workspace := airbyteReady.NextTask(b.workspace())
	source := workspace.NextTask(b.source())
	destination := workspace.NextTask(b.destination())
	pgReady.Next(destination)
	connection := source.NextTask(b.connection())
	destination.Next(connection)
	connection.
		NextTask(b.startLoad()).
		NextTask(b.waitForLoad(), dag.WithTaskTimeout(
			b.timeout(cfg.Retry.WaitForLoad, cfg.Airbyte.RequestTimeout)))

	d := dag.New(dag.Id(cfg.DagId)).
		AddSchedule(sched).
		AddRoot(pgReady).
		AddRoot(airbyteReady).
		AddConsts(Consts(cfg)).
		AddAttributes(dag.Attr{
			Tags:             []string{"elt", "airbyte", "postgres"},
			MaxParallelTasks: cfg.Server.MaxParallelTasks,
		}).
		Done()

	for _, task := range d.Flatten() {
		if err := tasks.ValidateTemplates(task); err != nil {
			return dag.Dag{}, err
		}
	}
	if err := d.Validate(); err != nil {
		return dag.Dag{}, err
	}
	return d, nil
}

// Consts returns DAG constants for given configuration.
func Consts(cfg config.Config) map[string]string {
	return map[string]string{
		ConstAirbyteURL:          cfg.Airbyte.URL,
		ConstWorkspaceName:       cfg.Airbyte.Workspace,
		ConstSourceName:          cfg.Airbyte.Source,
		ConstFakerCount:          strconv.Itoa(cfg.Airbyte.FakerCount),
		ConstDestinationName:     cfg.Airbyte.Destination,
		ConstDestinationSSLMode:  cfg.Airbyte.DestinationSSLMode,
		ConstDestinationSchema:   cfg.Airbyte.DestinationSchema,
		ConstConnectionName:      cfg.Airbyte.Connection,
		ConstConnectionNamespace: cfg.Airbyte.ConnectionNamespace,
		ConstPostgresHost:        cfg.Postgres.Host,
		ConstPostgresPort:        strconv.Itoa(cfg.Postgres.Port),
		ConstPostgresDatabase:    cfg.Postgres.Database,
		ConstPostgresUsername:    cfg.Postgres.Username,
	}
}

func (d Deps) withDefaults(cfg config.Config) Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: cfg.Airbyte.RequestTimeout}
	}
	if d.Secrets == nil {
		d.Secrets = cfg.Secrets.Resolver()
	}
	if d.Checker == nil {
		d.Checker = readiness.PostgresChecker{ConnectTimeout: defaultConnectTimeout}
	}
	if d.Logger == nil {
		l := zerolog.Nop()
		d.Logger = &l
	}
	return d
}

type builder struct {
	cfg        config.Config
	deps       Deps
	reconciler *reconcile.Reconciler
}

func (b builder) prober(taskId string) *probe.Prober {
	p := probe.New(b.deps.HTTPClient, b.deps.Logger)
	if b.deps.Metrics != nil {
		counter := b.deps.Metrics.ProbeRetries.WithLabelValues(taskId)
		p.OnRetry(func(string, int, error) { counter.Inc() })
	}
	return p
}

// Upper bound for a probing task: all backoff waits and every attempt taking
// the full per attempt timeout. Zero (no timeout) when per attempt timeout is
// unknown.
func (b builder) timeout(policy pace.RetryPolicy, perAttempt time.Duration) time.Duration {
	if perAttempt <= 0 {
		return 0
	}
	total := time.Duration(policy.Attempts()) * perAttempt
	for retry := 1; retry <= policy.Limit; retry++ {
		total += policy.Delay(retry)
	}
	return total
}

func (b builder) postgresReady() dag.Task {
	pg := b.cfg.Postgres
	return tasks.StoreReady{
		Name: TaskPostgresReady,
		Store: readiness.StoreConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			Username: pg.Username,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
		},
		Checker: b.deps.Checker,
		Secrets: b.deps.Secrets,
		Policy:  b.cfg.Retry.Postgres,
	}
}

func (b builder) airbyteReady() dag.Task {
	return tasks.HTTPGet{
		Name:      TaskAirbyteReady,
		URL:       airbyteURL("/health", nil),
		Condition: probe.StatusIs(http.StatusOK),
		Policy:    b.cfg.Retry.Airbyte,
		Prober:    b.prober(TaskAirbyteReady),
	}
}

func (b builder) workspace() dag.Task {
	return b.getOrCreate(TaskWorkspace, "workspaces", "workspaceId",
		ConstWorkspaceName, airbyteURL("/v1/workspaces", nil),
		dag.NewTemplate(`{"name": "${name}"}`, nameParam(ConstWorkspaceName)),
		nil)
}

func (b builder) source() dag.Task {
	payload := `{
  "name": "${name}",
  "workspaceId": "${workspaceId}",
  "configuration": {
    "sourceType": "faker",
    "count": ${count}
  }
}`
	return b.getOrCreate(TaskSource, "sources", "sourceId", ConstSourceName,
		airbyteURL("/v1/sources", nil),
		dag.NewTemplate(payload, map[string]dag.Param{
			"name":        dag.Const(ConstSourceName),
			"workspaceId": dag.OutputOf(TaskWorkspace),
			"count":       dag.Const(ConstFakerCount),
		}),
		nil)
}

// Password is null in the payload and patched with the secret value right
// before sending the request.
func (b builder) destination() dag.Task {
	payload := `{
  "name": "${name}",
  "workspaceId": "${workspaceId}",
  "configuration": {
    "destinationType": "postgres",
    "ssl_mode": {"mode": "${sslMode}"},
    "database": "${database}",
    "schema": "${schema}",
    "host": "${host}",
    "port": ${port},
    "username": "${username}",
    "password": null
  }
}`
	patch := &reconcile.Patch{
		Path:   pathexpr.New(pathexpr.Key("configuration"), pathexpr.Key("password")),
		Secret: b.cfg.Postgres.Password,
	}
	return b.getOrCreate(TaskDestination, "destinations", "destinationId",
		ConstDestinationName, airbyteURL("/v1/destinations", nil),
		dag.NewTemplate(payload, map[string]dag.Param{
			"name":        dag.Const(ConstDestinationName),
			"workspaceId": dag.OutputOf(TaskWorkspace),
			"sslMode":     dag.Const(ConstDestinationSSLMode),
			"database":    dag.Const(ConstPostgresDatabase),
			"schema":      dag.Const(ConstDestinationSchema),
			"host":        dag.Const(ConstPostgresHost),
			"port":        dag.Const(ConstPostgresPort),
			"username":    dag.Const(ConstPostgresUsername),
		}),
		patch)
}

// Connections are listed per workspace, unlike other resources.
func (b builder) connection() dag.Task {
	payload := `{
  "name": "${name}",
  "sourceId": "${sourceId}",
  "destinationId": "${destinationId}",
  "namespaceDefinition": "custom_format",
  "namespaceFormat": "${namespace}"
}`
	getURL := airbyteURL("/v1/connections?workspaceIds=${workspaceId}",
		map[string]dag.Param{"workspaceId": dag.OutputOf(TaskWorkspace)})
	return b.getOrCreate(TaskConnection, "connections", "connectionId",
		ConstConnectionName, getURL,
		dag.NewTemplate(payload, map[string]dag.Param{
			"name":          dag.Const(ConstConnectionName),
			"sourceId":      dag.OutputOf(TaskSource),
			"destinationId": dag.OutputOf(TaskDestination),
			"namespace":     dag.Const(ConstConnectionNamespace),
		}),
		nil)
}

func (b builder) startLoad() dag.Task {
	return tasks.HTTPPost{
		Name: TaskStartLoad,
		URL:  airbyteURL("/v1/jobs", nil),
		Body: dag.NewTemplate(`{"connectionId": "${connectionId}", "jobType": "sync"}`,
			map[string]dag.Param{"connectionId": dag.OutputOf(TaskConnection)}),
		Condition: probe.StatusIs(http.StatusOK),
		Prober:    b.prober(TaskStartLoad),
	}
}

func (b builder) waitForLoad() dag.Task {
	jobId := dag.OutputOfPath(TaskStartLoad, pathexpr.New(pathexpr.Key("jobId")))
	return tasks.HTTPGet{
		Name: TaskWaitForLoad,
		URL: airbyteURL("/v1/jobs/${jobId}",
			map[string]dag.Param{"jobId": jobId}),
		Condition: probe.All(probe.StatusIs(http.StatusOK),
			probe.BodyContains("succeeded")),
		Policy: b.cfg.Retry.WaitForLoad,
		Prober: b.prober(TaskWaitForLoad),
	}
}

// Airbyte lists resources as {"data": [...]}. Resource is found when there is
// an element with matching name, otherwise the filter gives empty list.
func (b builder) getOrCreate(
	taskId, resource, idKey, nameConst string, getURL, payload dag.Template,
	patch *reconcile.Patch,
) tasks.Reconcile {
	filter := `["data", {"filterByKey": {"key": "name", "value": "${name}"}}`
	return tasks.Reconcile{
		Name:      taskId,
		GetURL:    getURL,
		CheckPath: dag.NewTemplate(filter+`]`, nameParam(nameConst)),
		NotFound:  []any{},
		FoundPath: dag.NewTemplate(
			fmt.Sprintf(`%s, "0", %q]`, filter, idKey), nameParam(nameConst)),
		PostURL:     airbyteURL("/v1/"+resource, nil),
		Payload:     payload,
		Patch:       patch,
		CreatedPath: dag.NewTemplate(fmt.Sprintf(`[%q]`, idKey), nil),
		Reconciler:  b.reconciler,
	}
}

func airbyteURL(path string, params map[string]dag.Param) dag.Template {
	all := map[string]dag.Param{"baseUrl": dag.Const(ConstAirbyteURL)}
	for name, p := range params {
		all[name] = p
	}
	return dag.NewTemplate("${baseUrl}"+path, all)
}

func nameParam(constName string) map[string]dag.Param {
	return map[string]dag.Param{"name": dag.Const(constName)}
}
