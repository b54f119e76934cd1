package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/tags"
)

// Built-in action ids.
const (
	TimestampNanos = "timestamp_nanos"
	ElapsedMillis  = "elapsed_millis"
	Constant       = "constant"
	StringConcat   = "string_concat"
	TypeName       = "type_name"
	ErrorMessage   = "error_message"
	IsNil          = "is_nil"
	RecordMetric   = "record_metric"
	SpanStart      = "span_start"
	SpanAttribute  = "span_attribute"
	SpanEnd        = "span_end"
	Log            = "log"
)

const instrumentationName = "github.com/haasonsaas/hookline"

var (
	errNoRecorder = errors.New("no metric recorder configured")
	errNotSpan    = errors.New("input is not a span")
)

// RegisterBuiltins adds the built-in actions to l.
func RegisterBuiltins(l *Library) error {
	defs := []Definition{
		{
			ID: TimestampNanos,
			Compile: pure(func([]any) (any, error) {
				return time.Now().UnixNano(), nil
			}),
		},
		{
			ID:     ElapsedMillis,
			Inputs: []string{"start"},
			Compile: pure(func(in []any) (any, error) {
				start, ok := in[0].(int64)
				if !ok {
					return nil, fmt.Errorf("start must be an int64 timestamp, got %T", in[0])
				}
				return float64(time.Now().UnixNano()-start) / float64(time.Millisecond), nil
			}),
		},
		{
			ID:     Constant,
			Inputs: []string{"value"},
			Compile: pure(func(in []any) (any, error) {
				return in[0], nil
			}),
		},
		{
			ID:     StringConcat,
			Inputs: []string{"left", "right", "separator"},
			Compile: pure(func(in []any) (any, error) {
				sep, _ := in[2].(string)
				return stringOf(in[0]) + sep + stringOf(in[1]), nil
			}),
		},
		{
			ID:               TypeName,
			Inputs:           []string{"value"},
			DefaultDataInput: map[string]string{"value": VarThis},
			Compile: pure(func(in []any) (any, error) {
				if in[0] == nil {
					return nil, nil
				}
				return reflect.TypeOf(in[0]).String(), nil
			}),
		},
		{
			ID:               ErrorMessage,
			Inputs:           []string{"error"},
			DefaultDataInput: map[string]string{"error": VarThrown},
			Compile: pure(func(in []any) (any, error) {
				err, ok := in[0].(error)
				if !ok || err == nil {
					return nil, nil
				}
				return err.Error(), nil
			}),
		},
		{
			ID:     IsNil,
			Inputs: []string{"value"},
			Compile: pure(func(in []any) (any, error) {
				return isNilValue(in[0]), nil
			}),
		},
		{
			ID:               RecordMetric,
			Inputs:           []string{"ctx", "context", "name", "value", "tags"},
			DefaultDataInput: map[string]string{"ctx": VarCtx, "context": VarContext},
			Void:             true,
			Compile:          compileRecordMetric,
		},
		{
			ID:               SpanStart,
			Inputs:           []string{"ctx", "context", "name", "parent"},
			DefaultDataInput: map[string]string{"ctx": VarCtx, "context": VarContext, "name": VarMethodName},
			Compile:          compileSpanStart,
		},
		{
			ID:     SpanAttribute,
			Inputs: []string{"span", "key", "value"},
			Void:   true,
			Compile: pure(func(in []any) (any, error) {
				span, ok := in[0].(trace.Span)
				if !ok {
					return nil, errNotSpan
				}
				key, _ := in[1].(string)
				if key == "" {
					return nil, fmt.Errorf("attribute key is required")
				}
				span.SetAttributes(attributeFromValue(key, in[2]))
				return nil, nil
			}),
		},
		{
			ID:               SpanEnd,
			Inputs:           []string{"span", "error"},
			DefaultDataInput: map[string]string{"error": VarThrown},
			Void:             true,
			Compile: pure(func(in []any) (any, error) {
				span, ok := in[0].(trace.Span)
				if !ok {
					return nil, errNotSpan
				}
				if err, ok := in[1].(error); ok && err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
				return nil, nil
			}),
		},
		{
			ID:               Log,
			Inputs:           []string{"ctx", "context", "message", "level"},
			DefaultDataInput: map[string]string{"ctx": VarCtx, "context": VarContext},
			Void:             true,
			Compile:          compileLog,
		},
	}
	for _, def := range defs {
		if err := l.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinLibrary returns a library holding the built-in actions.
func NewBuiltinLibrary() *Library {
	l := NewLibrary()
	if err := RegisterBuiltins(l); err != nil {
		panic(err)
	}
	return l
}

// pure adapts a function of the additional inputs only.
func pure(fn func(in []any) (any, error)) func(*Environment) (Func, error) {
	f := func(_ []any, _, _ any, _ error, in []any) (any, error) {
		return fn(in)
	}
	return func(*Environment) (Func, error) { return f, nil }
}

func compileRecordMetric(env *Environment) (Func, error) {
	recorder := env.Recorder
	return func(_ []any, _, _ any, _ error, in []any) (any, error) {
		if recorder == nil {
			return nil, errNoRecorder
		}
		name, _ := in[2].(string)
		if name == "" {
			return nil, fmt.Errorf("metric name is required")
		}
		value, err := toFloat(in[3])
		if err != nil {
			return nil, err
		}
		labels := contextTags(in[1])
		maps.Copy(labels, stringMap(in[4]))
		return nil, recorder.Record(ctxOf(in[0]), name, value, labels)
	}, nil
}

func compileSpanStart(env *Environment) (Func, error) {
	tracer := env.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return func(_ []any, _, _ any, _ error, in []any) (any, error) {
		ctx := ctxOf(in[0])
		if parent, ok := in[3].(trace.Span); ok {
			ctx = trace.ContextWithSpan(ctx, parent)
		}
		name := stringOf(in[2])
		if name == "" {
			name = "call"
		}
		attrs := make([]attribute.KeyValue, 0)
		for k, v := range contextTags(in[1]) {
			attrs = append(attrs, attribute.String(k, v))
		}
		_, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
		return span, nil
	}, nil
}

func compileLog(env *Environment) (Func, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "action")
	return func(_ []any, _, _ any, _ error, in []any) (any, error) {
		level := slog.LevelInfo
		if s, ok := in[3].(string); ok && s != "" {
			if err := level.UnmarshalText([]byte(s)); err != nil {
				return nil, fmt.Errorf("invalid log level %q", s)
			}
		}
		attrs := make([]slog.Attr, 0)
		if c, ok := in[1].(*callctx.Context); ok && !c.IsNoop() {
			attrs = append(attrs, slog.String("context_id", c.ID()))
		}
		logger.LogAttrs(ctxOf(in[0]), level, stringOf(in[2]), attrs...)
		return nil, nil
	}, nil
}

// contextTags returns the tag-eligible data of a Context as strings.
func contextTags(v any) map[string]string {
	out := make(map[string]string)
	c, ok := v.(*callctx.Context)
	if !ok || c.IsNoop() || c.Manager() == nil {
		return out
	}
	policy := c.Manager().Policy()
	for k, val := range c.Data() {
		if !policy.IsTag(k) {
			continue
		}
		if s, ok := tags.Format(val); ok {
			out[k] = s
		}
	}
	return out
}

func ctxOf(v any) context.Context {
	if ctx, ok := v.(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := tags.Format(v); ok {
		return s
	}
	return fmt.Sprint(v)
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return maps.Clone(m)
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = stringOf(val)
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 1, nil
	}
	return 0, fmt.Errorf("metric value must be numeric, got %T", v)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, strings.TrimSpace(fmt.Sprintf("%v", v)))
	}
}
