package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the minimum log level.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level
	Level LogLevel

	// Format sets the output format (json or text)
	Format LogFormat

	// AddCaller adds file and line number to log entries
	AddCaller bool

	// EnableColor enables colored output for text format
	EnableColor bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:       InfoLevel,
		Format:      TextFormat,
		AddCaller:   true,
		EnableColor: true,
	}
}

// NewLogger creates a new configured logger instance.
func NewLogger(config Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetLevel(parseLogLevel(config.Level))

	switch config.Format {
	case JSONFormat:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
			ForceColors:     config.EnableColor,
			DisableColors:   !config.EnableColor,
		})
	}

	logger.SetReportCaller(config.AddCaller)
	logger.SetOutput(os.Stdout)

	return logger
}

// NewLoggerFromEnv creates a logger configured from environment variables.
// Reads LOG_LEVEL and LOG_FORMAT environment variables.
func NewLoggerFromEnv() *logrus.Logger {
	config := DefaultConfig()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}

	return NewLogger(config)
}

// parseLogLevel converts LogLevel to logrus.Level.
func parseLogLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext creates a logger entry with standard context fields, useful
// for adding common fields that should appear in every log line a component
// emits.
func WithContext(logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// WorldLogger creates a logger entry tagged with a World's instance ID, so
// log lines from concurrently running Worlds in the same process (tests,
// multi-document editors) stay distinguishable.
func WorldLogger(logger *logrus.Logger, worldID uint64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"world": worldID})
}

// SystemLogger creates a logger entry with system context.
func SystemLogger(logger *logrus.Logger, systemID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"system": systemID})
}

// ComponentLogger creates a logger entry with component context.
func ComponentLogger(logger *logrus.Logger, componentName string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"component": componentName})
}

// EntityLogger creates a logger entry with entity context.
func EntityLogger(logger *logrus.Logger, entityID uint32) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"entityID": entityID})
}

// WorkerLogger creates a logger entry with worker-dispatch context.
func WorkerLogger(logger *logrus.Logger, systemID string, workerID int) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"system": systemID, "worker": workerID})
}

// PerformanceLogger creates a logger entry with performance metrics context.
func PerformanceLogger(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"operation": operation})
}
