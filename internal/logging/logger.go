package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/austindbirch/taskmesh/internal/tracing"
)

// Config selects the minimum level and the encoding of log lines
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// ConfigFromEnv reads LOG_LEVEL and LOG_FORMAT
func ConfigFromEnv() Config {
	cfg := Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	return cfg
}

// LogEntry collects the correlation ids and fields for a single log line
type LogEntry struct {
	logger  *Logger
	TraceID string
	SpanID  string
	Subject string
	EventID string
	TaskID  string
	Topic   string
	Fields  map[string]any
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	z       *zap.Logger
}

// New creates a logger for service configured from the environment, writing to stdout
func New(service string) *Logger {
	l, err := NewWithConfig(service, ConfigFromEnv(), os.Stdout)
	if err != nil {
		l, _ = NewWithConfig(service, Config{Level: "info", Format: "json"}, os.Stdout)
	}
	return l
}

// NewWithConfig creates a logger for service that writes to w
func NewWithConfig(service string, cfg Config, w io.Writer) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	z := zap.New(core)
	if service != "" {
		z = z.With(zap.String("service", service))
	}
	return &Logger{service: service, z: z}, nil
}

// Zap exposes the underlying zap logger for libraries that want one
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered log lines
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.Plain()
	entry.TraceID = tracing.TraceID(ctx)
	entry.SpanID = tracing.SpanID(ctx)
	return entry
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.Plain().WithFields(fields)
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{logger: l, Fields: make(map[string]any)}
}

// WithTraceID sets the trace ID for the log entry
func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

// WithSubject sets the authenticated caller for the log entry
func (e *LogEntry) WithSubject(subject string) *LogEntry {
	e.Subject = subject
	return e
}

// WithEvent sets the event ID for the log entry
func (e *LogEntry) WithEvent(eventID string) *LogEntry {
	e.EventID = eventID
	return e
}

// WithTask sets the task ID for the log entry
func (e *LogEntry) WithTask(taskID string) *LogEntry {
	e.TaskID = taskID
	return e
}

// WithTopic sets the queue topic for the log entry
func (e *LogEntry) WithTopic(topic string) *LogEntry {
	e.Topic = topic
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

// Debug logs at debug level
func (e *LogEntry) Debug(message string) { e.output(zapcore.DebugLevel, message) }

// Debugf logs at debug level with formatting
func (e *LogEntry) Debugf(format string, args ...any) {
	e.output(zapcore.DebugLevel, fmt.Sprintf(format, args...))
}

// Info logs at info level
func (e *LogEntry) Info(message string) { e.output(zapcore.InfoLevel, message) }

// Infof logs at info level with formatting
func (e *LogEntry) Infof(format string, args ...any) {
	e.output(zapcore.InfoLevel, fmt.Sprintf(format, args...))
}

// Warn logs at warn level
func (e *LogEntry) Warn(message string) { e.output(zapcore.WarnLevel, message) }

// Warnf logs at warn level with formatting
func (e *LogEntry) Warnf(format string, args ...any) {
	e.output(zapcore.WarnLevel, fmt.Sprintf(format, args...))
}

// Error logs at error level
func (e *LogEntry) Error(message string) { e.output(zapcore.ErrorLevel, message) }

// Errorf logs at error level with formatting
func (e *LogEntry) Errorf(format string, args ...any) {
	e.output(zapcore.ErrorLevel, fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) { e.output(zapcore.FatalLevel, message) }

// Fatalf logs at fatal level with formatting and exits
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.output(zapcore.FatalLevel, fmt.Sprintf(format, args...))
}

func (e *LogEntry) output(level zapcore.Level, message string) {
	l := e.logger
	if l == nil {
		l = Default()
	}

	fields := make([]zap.Field, 0, len(e.Fields)+6)
	addString := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	addString("trace_id", e.TraceID)
	addString("span_id", e.SpanID)
	addString("subject", e.Subject)
	addString("event_id", e.EventID)
	addString("task_id", e.TaskID)
	addString("topic", e.Topic)
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Any("fields", e.Fields))
	}

	if ce := l.z.Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New("taskmesh")
)

// Default returns the process-wide logger
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetDefaultService sets the service name for the default logger
func SetDefaultService(service string) {
	SetDefault(New(service))
}

// WithContext creates a log entry with trace correlation from context using the default logger
func WithContext(ctx context.Context) *LogEntry {
	return Default().WithContext(ctx)
}

// WithFields creates a log entry with fields using the default logger
func WithFields(fields map[string]any) *LogEntry {
	return Default().WithFields(fields)
}

// Plain creates a basic log entry using the default logger
func Plain() *LogEntry {
	return Default().Plain()
}
