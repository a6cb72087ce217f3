package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithProject creates a child logger with project_id field
func WithProject(projectID string) zerolog.Logger {
	return Logger.With().Str("project_id", projectID).Logger()
}

// WithTable creates a child logger with bucket/table fields
func WithTable(bucket, table string) zerolog.Logger {
	return Logger.With().Str("bucket", bucket).Str("table", table).Logger()
}

// WithBranch creates a child logger with branch_id field
func WithBranch(branchID string) zerolog.Logger {
	return Logger.With().Str("branch_id", branchID).Logger()
}

// WithWorkspace creates a child logger with workspace_id field
func WithWorkspace(workspaceID string) zerolog.Logger {
	return Logger.With().Str("workspace_id", workspaceID).Logger()
}

// WithSession creates a child logger with session_id field, used by the
// PG-wire session engine to correlate log lines for one connection.
func WithSession(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// WithRequest creates a child logger with request_id field, used by the
// HTTP/S3 surface to correlate log lines for one inbound request.
func WithRequest(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
