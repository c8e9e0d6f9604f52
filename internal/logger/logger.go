// Package logger provides structured logging for folio
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with folio component helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // trace, debug, info, warn, error
	Pretty     bool   // console output for terminals
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a level name to zerolog, defaulting to info
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "folio").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying zerolog logger, the form library packages accept
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// AdapterLogger returns a logger for one metadata or storage adapter
func (l *Logger) AdapterLogger(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "adapter").
			Str("adapter", name).
			Logger(),
	}
}

// IngestLogger returns a logger for one ingest run
func (l *Logger) IngestLogger(source string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "ingest").
			Str("source", source).
			Logger(),
	}
}

// LogPersistOperation logs a persistence call with structured fields
func (l *Logger) LogPersistOperation(backend, operation string, duration time.Duration, count int, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.Str("component", "persistence").
		Str("backend", backend).
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", count).
		Msg("persistence operation completed")
}

// LogFlush logs the outcome of mirroring a buffered session to the index
func (l *Logger) LogFlush(applied, pending int, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.Str("component", "buffered").
		Int("applied", applied).
		Int("pending", pending).
		Msg("index flush completed")
}

// LogStartup logs the adapters chosen at startup
func (l *Logger) LogStartup(metadata, storage string) {
	l.zlog.Info().
		Str("event", "startup").
		Str("metadata_adapter", metadata).
		Str("storage_adapter", storage).
		Msg("folio starting")
}

// InitGlobalLogger builds a logger and installs it as the zerolog global
func InitGlobalLogger(cfg Config) *Logger {
	l := NewLogger(cfg)
	log.Logger = l.zlog
	return l
}
