package cli

import (
	"io"
	"os"
	"strings"

	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/natefinch/lumberjack"
)

// SetupLogging creates and configures the diagnostic logger. Diagnostics go
// to stderr; when the self-log is enabled they are additionally written to a
// rotating file. Returns the configured logger for dependency injection.
func SetupLogging(level string, selflog config.SelfLogConfig) logger.ILogger {
	var w io.Writer = os.Stderr
	if selflog.Enabled && selflog.Path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   selflog.Path,
			MaxSize:    selflog.MaxSizeMB,
			MaxBackups: selflog.MaxBackups,
			MaxAge:     selflog.MaxAgeDays,
			Compress:   selflog.Compress,
		})
	}

	log := logger.NewConsoleLogger(w)

	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	// Set as default logger for global access if needed
	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}
