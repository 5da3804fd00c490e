package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/meltinfra/bootstrap/scheduler"
	"github.com/meltinfra/bootstrap/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type LoggerConfig struct {
	Level            zerolog.Level
	UseConsoleWriter bool
}

type Config struct {
	AppVersion string
	ConfigPath string
	Once       bool
	TriggerUrl string
	Logger     LoggerConfig
}

// Parse Config from command line arguments.
func ParseConfig(args []string) (Config, error) {
	fs := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	configPath := fs.String("config", "",
		"Path to HCL configuration file. Defaults are used when empty.")
	once := fs.Bool("once", false,
		"Run the pipeline once and exit. Exit code is non-zero when the run fails.")
	triggerUrl := fs.String("trigger", "",
		"URL of running scheduler. When set, manual DAG run is triggered there and the program exits.")
	logConsole := fs.Bool("logConsole", false,
		"Use ConsoleWriter - pretty but not efficient, mostly for development")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		AppVersion: strings.TrimSpace(version.Version),
		ConfigPath: *configPath,
		Once:       *once,
		TriggerUrl: *triggerUrl,
		Logger: LoggerConfig{
			Level:            scheduler.ParseLogLevel(os.Getenv(scheduler.MELT_ENV_LOG_LEVEL)),
			UseConsoleWriter: *logConsole,
		},
	}, nil
}

func (c *Config) setupZerolog() {
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.SetGlobalLevel(c.Logger.Level)
	if c.Logger.UseConsoleWriter {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		zerolog.TimeFieldFormat = time.RFC3339
	}
}
