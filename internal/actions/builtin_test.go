package actions

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/haasonsaas/hookline/internal/callctx"
	"github.com/haasonsaas/hookline/internal/propagation"
)

type recordedMetric struct {
	name  string
	value float64
	tags  map[string]string
}

type fakeRecorder struct {
	records []recordedMetric
}

func (r *fakeRecorder) Record(_ context.Context, name string, value float64, tags map[string]string) error {
	r.records = append(r.records, recordedMetric{name: name, value: value, tags: tags})
	return nil
}

func bindBuiltin(t *testing.T, env *Environment, spec CallSpec) BoundAction {
	t.Helper()
	compiled, err := NewBuiltinLibrary().Compile(spec.ActionID, env)
	if err != nil {
		t.Fatalf("Compile(%s) error = %v", spec.ActionID, err)
	}
	bound, err := Bind(spec, compiled)
	if err != nil {
		t.Fatalf("Bind(%s) error = %v", spec.ActionID, err)
	}
	return bound
}

func run(t *testing.T, a BoundAction, ec *ExecutionContext) {
	t.Helper()
	if err := a.Execute(ec); err != nil {
		t.Fatalf("Execute(%s) error = %v", a.Name(), err)
	}
}

func TestBuiltins_Values(t *testing.T) {
	thrown := errors.New("denied")
	var nilMap map[string]int

	tests := []struct {
		name string
		spec CallSpec
		args []any
		want any
	}{
		{
			name: "constant",
			spec: CallSpec{ActionID: Constant, ConstantInput: map[string]any{"value": "v"}},
			want: "v",
		},
		{
			name: "string concat",
			spec: CallSpec{ActionID: StringConcat, ConstantInput: map[string]any{"left": "a", "separator": "."}, DataInput: map[string]string{"right": "_arg0"}},
			args: []any{2.0},
			want: "a.2.0",
		},
		{
			name: "type name of receiver",
			spec: CallSpec{ActionID: TypeName},
			want: "*bytes.Buffer",
		},
		{
			name: "error message",
			spec: CallSpec{ActionID: ErrorMessage},
			want: "denied",
		},
		{
			name: "is nil typed nil",
			spec: CallSpec{ActionID: IsNil, DataInput: map[string]string{"value": "_arg0"}},
			args: []any{nilMap},
			want: true,
		},
		{
			name: "is nil value",
			spec: CallSpec{ActionID: IsNil, DataInput: map[string]string{"value": "_arg0"}},
			args: []any{0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.DataKey = "out"
			a := bindBuiltin(t, nil, tt.spec)
			ec := newExecutionContext(t)
			ec.Args = tt.args
			ec.Receiver = &bytes.Buffer{}
			ec.Thrown = thrown
			run(t, a, ec)
			if got, _ := ec.Context.GetData("out"); got != tt.want {
				t.Errorf("got %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestBuiltins_TimestampAndElapsed(t *testing.T) {
	ec := newExecutionContext(t)
	run(t, bindBuiltin(t, nil, CallSpec{ActionID: TimestampNanos, DataKey: "start"}), ec)
	run(t, bindBuiltin(t, nil, CallSpec{
		ActionID:  ElapsedMillis,
		DataKey:   "elapsed",
		DataInput: map[string]string{"start": "start"},
	}), ec)

	v, _ := ec.Context.GetData("elapsed")
	ms, ok := v.(float64)
	if !ok || ms < 0 {
		t.Errorf("elapsed = %v", v)
	}

	bad := bindBuiltin(t, nil, CallSpec{ActionID: ElapsedMillis, DataKey: "x", ConstantInput: map[string]any{"start": "yesterday"}})
	if err := bad.Execute(ec); err == nil {
		t.Error("expected error for non timestamp start")
	}
}

func TestBuiltins_RecordMetric(t *testing.T) {
	rec := &fakeRecorder{}
	policy := propagation.NewStaticPolicy(map[string]propagation.KeySettings{
		"route": {Tag: true},
		"user":  {},
	}, map[string]string{"service": "api"})
	m := callctx.NewManager(policy)
	ec := &ExecutionContext{Ctx: context.Background(), Context: m.Open(context.Background())}
	_ = ec.Context.SetData("route", "/orders")
	_ = ec.Context.SetData("user", "alice")

	a := bindBuiltin(t, &Environment{Name: "metrics", Recorder: rec}, CallSpec{
		ActionID: RecordMetric,
		ConstantInput: map[string]any{
			"name":  "orders_total",
			"value": 3,
			"tags":  map[string]any{"region": "eu"},
		},
	})
	run(t, a, ec)

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rec.records))
	}
	got := rec.records[0]
	if got.name != "orders_total" || got.value != 3 {
		t.Errorf("unexpected record %+v", got)
	}
	want := map[string]string{"service": "api", "route": "/orders", "region": "eu"}
	if len(got.tags) != len(want) {
		t.Fatalf("tags = %v, want %v", got.tags, want)
	}
	for k, v := range want {
		if got.tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, got.tags[k], v)
		}
	}

	noRecorder := bindBuiltin(t, nil, CallSpec{ActionID: RecordMetric, ConstantInput: map[string]any{"name": "x"}})
	if err := noRecorder.Execute(ec); err == nil {
		t.Error("expected error without recorder")
	}
}

func TestBuiltins_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	env := &Environment{Name: "tracing", Tracer: tp.Tracer("test")}

	ec := newExecutionContext(t)
	ec.Thrown = errors.New("failed")

	run(t, bindBuiltin(t, env, CallSpec{ActionID: SpanStart, DataKey: "span"}), ec)
	run(t, bindBuiltin(t, env, CallSpec{
		ActionID:      SpanAttribute,
		DataInput:     map[string]string{"span": "span"},
		ConstantInput: map[string]any{"key": "attempt", "value": 2},
	}), ec)
	run(t, bindBuiltin(t, env, CallSpec{ActionID: SpanEnd, DataInput: map[string]string{"span": "span"}}), ec)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "Handle" {
		t.Errorf("span name = %q, want Handle", span.Name)
	}
	if span.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status.Code)
	}
	found := false
	for _, attr := range span.Attributes {
		if string(attr.Key) == "attempt" && attr.Value.AsInt64() == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("attribute attempt missing: %v", span.Attributes)
	}

	notSpan := bindBuiltin(t, env, CallSpec{ActionID: SpanEnd, ConstantInput: map[string]any{"span": "nope"}})
	if err := notSpan.Execute(ec); err == nil {
		t.Error("expected error for non span input")
	}
}

func TestBuiltins_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	env := &Environment{Name: "log", Logger: logger}

	ec := newExecutionContext(t)
	run(t, bindBuiltin(t, env, CallSpec{
		ActionID:      Log,
		ConstantInput: map[string]any{"message": "entered", "level": "warn"},
	}), ec)

	out := buf.String()
	for _, want := range []string{"level=WARN", "msg=entered", "context_id=" + ec.Context.ID(), "component=action"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}

	bad := bindBuiltin(t, env, CallSpec{ActionID: Log, ConstantInput: map[string]any{"level": "loud"}})
	if err := bad.Execute(ec); err == nil {
		t.Error("expected error for invalid level")
	}
}
