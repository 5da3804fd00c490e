package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meltinfra/bootstrap/api"
	"github.com/meltinfra/bootstrap/config"
	"github.com/meltinfra/bootstrap/dag"
	"github.com/meltinfra/bootstrap/db"
	"github.com/meltinfra/bootstrap/metrics"
	"github.com/meltinfra/bootstrap/pipeline"
	"github.com/meltinfra/bootstrap/scheduler"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := ParseConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg.setupZerolog()

	if cfg.TriggerUrl != "" {
		os.Exit(trigger(cfg.TriggerUrl))
	}

	appCfg := config.Default()
	if cfg.ConfigPath != "" {
		appCfg, err = config.Load(cfg.ConfigPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.ConfigPath).
				Msg("Cannot load configuration")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	code := run(ctx, cfg, appCfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg Config, appCfg config.Config) int {
	dbClient, err := openDb(appCfg.Database)
	if err != nil {
		log.Error().Err(err).Str("driver", appCfg.Database.Driver).
			Msg("Cannot open database")
		return 1
	}
	defer dbClient.Close()

	m := metrics.New()
	d, err := pipeline.Build(appCfg, pipeline.Deps{Metrics: m, Logger: &log.Logger})
	if err != nil {
		log.Error().Err(err).Msg("Cannot build the pipeline")
		return 1
	}
	schedCfg := scheduler.DefaultConfig
	schedCfg.ShutdownTimeout = appCfg.Server.ShutdownTimeout
	sched, err := scheduler.New(d, dbClient, nil, m, schedCfg, &log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Cannot create the scheduler")
		return 1
	}

	if cfg.Once {
		state, status, runErr := sched.RunOnce(ctx)
		if runErr != nil {
			log.Error().Err(runErr).Msg("Cannot run the pipeline")
			return 1
		}
		log.Info().Str("runId", state.Info.RunId).Str("status", status.String()).
			Msg("Pipeline run finished")
		if status != dag.RunSuccess {
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	server := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           sched.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Start Scheduler v%s on %s...", cfg.AppVersion, server.Addr)
		lasErr := server.ListenAndServe()
		if lasErr != nil && !errors.Is(lasErr, http.ErrServerClosed) {
			serverErr <- lasErr
			cancel()
		}
		close(serverErr)
	}()

	startErr := sched.Start(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Cannot gracefully shutdown HTTP server")
	}
	if lasErr := <-serverErr; lasErr != nil {
		log.Error().Err(lasErr).Msg("HTTP server failed")
		return 1
	}
	if startErr != nil {
		log.Error().Err(startErr).Msg("Scheduler stopped with an error")
		return 1
	}
	log.Info().Msg("Scheduler stopped")
	return 0
}

func openDb(cfg config.Database) (*db.Client, error) {
	switch cfg.Driver {
	case config.DriverSqlite:
		return db.NewSqliteClient(cfg.Path, &log.Logger)
	case config.DriverPostgres:
		return db.OpenPostgresClient(cfg.DSN, cfg.Name, &log.Logger)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func trigger(schedulerUrl string) int {
	client := scheduler.NewClient(schedulerUrl, nil, &log.Logger,
		scheduler.DefaultClientConfig)
	out, err := client.TriggerDagRun(api.DagRunTriggerInput{})
	if errors.Is(err, scheduler.ErrRunInProgress) {
		log.Warn().Err(err).Msg("DAG run is already in progress")
		return 3
	}
	if err != nil {
		log.Error().Err(err).Msg("Cannot trigger DAG run")
		return 1
	}
	log.Info().Str("runId", out.RunId).Msg("DAG run triggered")
	return 0
}
