package scheduler

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Name for environment variable for setting default logger severity level.
const MELT_ENV_LOG_LEVEL = "MELT_LOG_LEVEL"

// ParseLogLevel maps MELT_LOG_LEVEL values onto zerolog levels. Unknown or
// empty values fall back to INFO.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func defaultLogger(logger *zerolog.Logger) zerolog.Logger {
	if logger != nil {
		return *logger
	}
	return log.Logger.With().Str("component", "scheduler").Logger().
		Level(ParseLogLevel(os.Getenv(MELT_ENV_LOG_LEVEL)))
}
