package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with domain-specific helpers while staying thin
type Logger struct {
	*slog.Logger
	config LoggerConfig
}

// LogLevel represents the logging level
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      LogLevel     `mapstructure:"level" yaml:"level" json:"level"`
	Format     OutputFormat `mapstructure:"format" yaml:"format" json:"format"`
	AddSource  bool         `mapstructure:"add_source" yaml:"add_source" json:"add_source"`
	Component  string       `mapstructure:"component" yaml:"component" json:"component"`
	Version    string       `mapstructure:"version" yaml:"version" json:"version"`
	TimeFormat string       `mapstructure:"time_format" yaml:"time_format" json:"time_format"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LevelInfo,
		Format:     FormatText,
		AddSource:  false,
		Component:  "vpn-leased",
		Version:    "unknown",
		TimeFormat: time.RFC3339,
	}
}

// New creates a new logger writing to stdout
func New(config LoggerConfig) *Logger {
	return NewWithWriter(config, os.Stdout)
}

// NewWithWriter creates a new logger writing to w
func NewWithWriter(config LoggerConfig, w io.Writer) *Logger {
	level := parseLogLevel(config.Level)
	handler := createHandler(config, level, w)

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// NewProduction creates a logger optimized for production
func NewProduction(component, version string) *Logger {
	return New(LoggerConfig{
		Level:      LevelInfo,
		Format:     FormatJSON,
		AddSource:  false,
		Component:  component,
		Version:    version,
		TimeFormat: time.RFC3339,
	})
}

// NewDiscard returns a logger that drops everything. Used by tests.
func NewDiscard() *Logger {
	return NewWithWriter(LoggerConfig{Level: LevelError, Format: FormatJSON}, io.Discard)
}

// Context keys for structured logging
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	LeaseIDKey   contextKey = "lease_id"
	OperationKey contextKey = "operation"
	CycleIDKey   contextKey = "cycle_id"
)

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger,
		config: cfg,
	}
}

// WithContext extracts logging context and returns a scoped logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := extractContextAttrs(ctx)
	if l.config.Component != "" {
		attrs = append(attrs, slog.String("component", l.config.Component))
	}
	if l.config.Version != "" {
		attrs = append(attrs, slog.String("version", l.config.Version))
	}
	if len(attrs) == 0 {
		return l
	}

	return &Logger{
		Logger: l.Logger.With(attrsToAny(attrs)...),
		config: l.config,
	}
}

// Unwrap returns the underlying slog.Logger for direct access
func (l *Logger) Unwrap() *slog.Logger {
	return l.Logger
}

// ErrorCtx logs an error with automatic context enrichment
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}

	if domainErr, ok := apperrors.AsDomainError(err); ok {
		attrs = append(attrs,
			slog.String("error_domain", domainErr.Domain()),
			slog.String("error_code", domainErr.Code()),
			slog.Bool("retryable", domainErr.Retryable()),
		)

		for k, v := range domainErr.Metadata() {
			attrs = append(attrs, slog.Any(k, v))
		}
	}

	attrs = append(attrs, args...)
	l.WithContext(ctx).Error(msg, attrs...)
}

// WarnErr logs a recoverable error at warn level with the same enrichment as ErrorCtx
func (l *Logger) WarnErr(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}
	if _, ok := apperrors.AsDomainError(err); ok {
		attrs = append(attrs,
			slog.String("error_code", apperrors.GetErrorCode(err)),
			slog.Bool("retryable", apperrors.IsRetryable(err)),
		)
	}
	attrs = append(attrs, args...)
	l.WithContext(ctx).Warn(msg, attrs...)
}

// TraceCtx logs at trace level with context
func (l *Logger) TraceCtx(ctx context.Context, msg string, args ...any) {
	if l.config.Level == LevelTrace {
		l.WithContext(ctx).Debug(msg, args...)
	}
}

// HTTPRequest logs HTTP request/response with smart level selection
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, args ...any) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("http_method", method),
		slog.String("http_path", path),
		slog.Int("http_status", status),
		slog.Duration("duration_ms", duration),
	}
	attrs = append(attrs, args...)

	msg := fmt.Sprintf("%s %s %d", method, path, status)
	l.WithContext(ctx).Log(ctx, level, msg, attrs...)
}

// StackTrace logs a stack trace for debugging (debug level only)
func (l *Logger) StackTrace(ctx context.Context, msg string) {
	if l.config.Level != LevelDebug && l.config.Level != LevelTrace {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	l.WithContext(ctx).Debug(msg, slog.String("stack", string(buf[:n])))
}

// KeyPrefix shortens a public key for log output.
func KeyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

func parseLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(config LoggerConfig, level slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	switch config.Format {
	case FormatText:
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: timeFormat,
			AddSource:  config.AddSource,
			NoColor:    w != os.Stdout && w != os.Stderr,
		})
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	for _, key := range []contextKey{RequestIDKey, LeaseIDKey, OperationKey, CycleIDKey} {
		if val := getFromContext[string](ctx, key); val != "" {
			attrs = append(attrs, slog.String(string(key), val))
		}
	}

	return attrs
}

func getFromContext[T any](ctx context.Context, key contextKey) T {
	if val, ok := ctx.Value(key).(T); ok {
		return val
	}
	var zero T
	return zero
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithLeaseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, LeaseIDKey, id)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CycleIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	return getFromContext[string](ctx, RequestIDKey)
}
