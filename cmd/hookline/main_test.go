package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"validate", "plan", "schema", "watch", "demo"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("HOOKLINE_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigName {
		t.Errorf("resolveConfigPath() = %q, want %q", got, defaultConfigName)
	}
	t.Setenv("HOOKLINE_CONFIG", "/etc/hookline.yaml")
	if got := resolveConfigPath(""); got != "/etc/hookline.yaml" {
		t.Errorf("resolveConfigPath() = %q", got)
	}
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("explicit path should win, got %q", got)
	}
}

func TestRunDemo(t *testing.T) {
	tests := []struct {
		name string
		fail bool
		want []string
	}{
		{
			name: "success",
			want: []string{
				"tags inside Charge: order_id=order-42 service=shop",
				"paid as seen by Place: true",
				"payment finished",
				"order placed",
			},
		},
		{
			name: "payment fails",
			fail: true,
			want: []string{"paid as seen by Place: false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runDemo(context.Background(), &out, "", tt.fail); err != nil {
				t.Fatalf("runDemo() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestRunValidateAndPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookline.yaml")
	if err := os.WriteFile(path, []byte(demoConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runValidate(context.Background(), &out, path); err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if !strings.Contains(out.String(), "ok (2 hooks, 0 warnings)") {
		t.Errorf("unexpected validate output %q", out.String())
	}

	out.Reset()
	if err := runPlan(context.Background(), &out, path); err != nil {
		t.Fatalf("runPlan() error = %v", err)
	}
	for _, want := range []string{
		"shop.Checkout.Place(order)",
		"order_id -> start",
		"paid -> ",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("plan missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunValidateRejectsCycles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookline.yaml")
	doc := `
version: 1
hooks:
  - type: T
    method: M()
    entry:
      - {name: x, action: constant, data_key: a, data: {value: b}}
      - {name: y, action: constant, data_key: b, data: {value: a}}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err := runValidate(context.Background(), &out, path)
	if err == nil || !strings.Contains(err.Error(), "x,y") {
		t.Fatalf("expected cycle naming x,y, got %v", err)
	}
}

func TestRunSchema(t *testing.T) {
	var out bytes.Buffer
	if err := runSchema(&out); err != nil {
		t.Fatalf("runSchema() error = %v", err)
	}
	if !strings.Contains(out.String(), `"hooks"`) {
		t.Error("schema missing hooks")
	}
}

func TestExampleConfigValidates(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("REGION", "eu-west-1")

	var out bytes.Buffer
	path := filepath.Join("..", "..", "examples", "hookline.yaml")
	if err := runValidate(context.Background(), &out, path); err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if !strings.Contains(out.String(), "0 warnings") {
		t.Errorf("unexpected warnings:\n%s", out.String())
	}
}
