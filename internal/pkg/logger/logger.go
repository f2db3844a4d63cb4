// Package logger is a thin slog wrapper that carries request and job
// correlation ids through a context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	jobIDKey
)

// contextAttrs maps the correlation ids kept in a context to log keys,
// in the order FromContext attaches them.
var contextAttrs = []struct {
	key  ctxKey
	attr string
}{
	{requestIDKey, "request_id"},
	{jobIDKey, "job_id"},
}

type Logger struct {
	*slog.Logger
}

type Config struct {
	Level       string // debug, info, warn or error
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

type envConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Format      string `env:"LOG_FORMAT" envDefault:"json"`
	AddSource   bool   `env:"LOG_SOURCE" envDefault:"false"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"proofrender"`
}

// DefaultConfig reads LOG_LEVEL, LOG_FORMAT, LOG_SOURCE and SERVICE_NAME.
// Unparseable values fall back to info-level JSON on stdout.
func DefaultConfig() Config {
	ec, err := env.ParseAs[envConfig]()
	if err != nil {
		ec = envConfig{Level: "info", Format: "json", ServiceName: "proofrender"}
	}
	return Config{
		Level:       ec.Level,
		Format:      ec.Format,
		Output:      os.Stdout,
		AddSource:   ec.AddSource,
		ServiceName: ec.ServiceName,
	}
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: utcTime,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	if cfg.ServiceName != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}
	return &Logger{Logger: slog.New(h)}
}

func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDiscard drops every record. Components built without a logger use it.
func NewDiscard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with("job_id", jobID)
}

// WithProviderJob tags records with the render provider and the id that
// provider assigned to the job.
func (l *Logger) WithProviderJob(provider, providerJobID string) *Logger {
	return l.with("provider", provider, "provider_job_id", providerJobID)
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// WithFields attaches fields in key order so output is stable.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// FromContext returns l enriched with the correlation ids stored in ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	var args []any
	for _, ca := range contextAttrs {
		if v, _ := ctx.Value(ca.key).(string); v != "" {
			args = append(args, ca.attr, v)
		}
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

// LogError logs err at error level together with the caller's position.
// A nil err logs nothing.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, slog.Group("caller", slog.String("file", file), slog.Int("line", line)))
	}
	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// RequestIDFromContext returns the request id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
	}
	return a
}
