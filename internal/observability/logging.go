package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/tags"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactKeys are attribute keys whose values are replaced in the output,
	// in addition to DefaultRedactKeys.
	RedactKeys []string
}

// DefaultRedactKeys are attribute keys that never reach the log output.
var DefaultRedactKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"authorization",
}

const redacted = "[REDACTED]"

// NewLogger creates a structured logger with the given configuration.
//
// If config.Output is nil, logs are written to os.Stdout.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "json"
	}

	sensitive := make(map[string]bool, len(DefaultRedactKeys)+len(config.RedactKeys))
	for _, k := range DefaultRedactKeys {
		sensitive[k] = true
	}
	for _, k := range config.RedactKeys {
		sensitive[normalizeKey(k)] = true
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if sensitive[normalizeKey(a.Key)] {
				return slog.String(a.Key, redacted)
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(NewTagHandler(handler))
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "-", "_"))
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TagHandler is a slog.Handler that adds the ambient tags and the current
// call context id of the record's context to every record.
type TagHandler struct {
	next slog.Handler
}

// NewTagHandler wraps next.
func NewTagHandler(next slog.Handler) *TagHandler {
	return &TagHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *TagHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *TagHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, r)
	}
	var extra []slog.Attr
	if keys := tags.Keys(ctx); len(keys) > 0 {
		values := tags.FromContext(ctx)
		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.String(k, values[k]))
		}
		extra = append(extra, slog.Group("tags", group...))
	}
	if c := callctx.Current(ctx); !c.IsNoop() {
		extra = append(extra, slog.String("context_id", c.ID()))
	}
	if len(extra) > 0 {
		r = r.Clone()
		r.AddAttrs(extra...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *TagHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TagHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *TagHandler) WithGroup(name string) slog.Handler {
	return &TagHandler{next: h.next.WithGroup(name)}
}
