package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger to provide additional functionality
type Logger struct {
	zerolog.Logger
}

// Config holds the logger configuration
type Config struct {
	// Level is the minimum level to log
	Level string `json:"level" default:"info"`

	// Format specifies the output format (json or console)
	Format string `json:"format" default:"console"`

	// Output specifies where to write logs (stdout, stderr, or file path)
	Output string `json:"output" default:"stdout"`

	// TimeFormat specifies the format for timestamps
	TimeFormat string `json:"time_format" default:"2006-01-02T15:04:05.000Z07:00"`

	// AddCaller adds the caller (file:line) to log entries
	AddCaller bool `json:"add_caller" default:"true"`
}

// contextKey is the type for context keys
type contextKey string

const (
	// loggerContextKey is the key used to store the logger in context
	loggerContextKey = contextKey("logger")

	// defaultTimeFormat is the default time format for logging
	defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// NewLogger creates a new logger instance with the provided configuration
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			TimeFormat: defaultTimeFormat,
			AddCaller:  true,
		}
	}

	// Configure zerolog
	zerolog.TimeFieldFormat = cfg.TimeFormat
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output writer
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// Attempt to open file for writing
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file %s: %v\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Configure output format
	if strings.ToLower(cfg.Format) == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
			NoColor:    false,
		}
	}

	// Create logger
	logger := zerolog.New(output).
		With().
		Timestamp().
		Logger()

	// Add caller if configured
	if cfg.AddCaller {
		logger = logger.With().Caller().Logger()
	}

	return &Logger{
		Logger: logger,
	}
}

// WithContext returns a copy of context with the logger attached
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves the logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok {
		return logger
	}
	return NewLogger(nil) // Return default logger if none in context
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{Logger: ctx.Logger()}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.With().Interface(key, value).Logger()}
}

// WithError creates a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.With().Err(err).Logger()}
}

// WithRequestID adds a request ID to the logger
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.WithField("request_id", requestID)
}

// WithCouncil adds a council module name to the logger
func (l *Logger) WithCouncil(module string) *Logger {
	return l.WithField("council", module)
}

// parseLevel converts a string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
