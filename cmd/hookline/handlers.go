package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/hookline/internal/actions"
	"github.com/haasonsaas/hookline/internal/agent"
	"github.com/haasonsaas/hookline/internal/config"
	"github.com/haasonsaas/hookline/internal/hooks"
	"github.com/haasonsaas/hookline/internal/observability"
	"github.com/haasonsaas/hookline/internal/tags"
)

// buildOffline builds every configured hook into a private registry so the
// configuration can be inspected without touching the process.
func buildOffline(cfg *config.Config) (*agent.Agent, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return agent.New(cfg, agent.WithRegistry(hooks.NewRegistry(quiet)), agent.WithLogger(quiet))
}

func runValidate(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, buildErr := buildOffline(cfg)
	if a == nil {
		return buildErr
	}
	defer func() { _ = a.Close(ctx) }()

	warnings := 0
	for _, report := range a.Reports() {
		for _, bindErr := range report.BindingErrors {
			warnings++
			fmt.Fprintf(out, "warning: %s: %v\n", report.Method, bindErr)
		}
	}
	if buildErr != nil {
		return fmt.Errorf("hooks rejected: %w", buildErr)
	}
	fmt.Fprintf(out, "%s: ok (%d hooks, %d warnings)\n", configPath, len(cfg.Hooks), warnings)
	return nil
}

func runPlan(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, buildErr := buildOffline(cfg)
	if a == nil {
		return buildErr
	}
	defer func() { _ = a.Close(ctx) }()

	for _, report := range a.Reports() {
		fmt.Fprintln(out, report.Method)
		for _, phase := range actions.Phases() {
			if order := report.Order[phase]; len(order) > 0 {
				fmt.Fprintf(out, "  %-10s %s\n", phase+":", strings.Join(order, " -> "))
			}
		}
		for _, bindErr := range report.BindingErrors {
			fmt.Fprintf(out, "  ! %v\n", bindErr)
		}
	}
	return buildErr
}

func runSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runWatch(ctx context.Context, configPath, listenAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := agent.New(cfg, agent.WithLogOutput(os.Stderr))
	if a == nil {
		return err
	}
	logger := a.Logger()
	if err != nil {
		logger.Warn("some hooks were rejected", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	if err := a.Watch(ctx, configPath); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if listenAddr == "" {
		listenAddr = cfg.Observability.Metrics.ListenAddr
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Gatherer(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("watching config", "path", configPath, "metrics_addr", listener.Addr().String())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

var (
	demoPlace  = hooks.Method{Type: "shop.Checkout", Signature: "Place(order)"}
	demoCharge = hooks.Method{Type: "shop.Payments", Signature: "Charge(amount)"}
)

const demoConfig = `
version: 1
logging:
  format: text
propagation:
  common_tags:
    service: shop
  keys:
    order_id: {down: true, tag: true}
    paid: {up: true}
hooks:
  - type: shop.Checkout
    method: Place(order)
    entry:
      - action: constant
        data_key: order_id
        data: {value: _arg0}
      - action: timestamp_nanos
        data_key: start
    exit:
      - action: elapsed_millis
        data_key: elapsed_ms
        data: {start: start}
      - action: log
        constants: {message: order placed}
  - type: shop.Payments
    method: Charge(amount)
    entry:
      - action: span_start
        data_key: span
    exit:
      - action: is_nil
        data_key: paid
        data: {value: _thrown}
      - action: span_end
        data: {span: span}
        reads: [paid]
      - action: log
        constants: {message: payment finished}
        reads: [paid]
`

func runDemo(ctx context.Context, out io.Writer, configPath string, fail bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Parse([]byte(demoConfig), "yaml")
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return err
	}

	a, err := agent.New(cfg, agent.WithRegistry(hooks.NewRegistry(nil)), agent.WithLogOutput(out))
	if a == nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()
	if err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}

	tracer, shutdown, err := observability.NewTracer(observability.TraceConfig{ServiceName: "hookline-demo"})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()
	ctx, span := tracer.Start(ctx, "demo")
	defer span.End()

	place := a.Enter(ctx, demoPlace, []any{"order-42"}, nil)
	charge := a.Enter(place.Ctx(), demoCharge, []any{19.99}, nil)

	fmt.Fprintf(out, "tags inside %s:", demoCharge.Name())
	ambient := tags.FromContext(charge.Ctx())
	for _, key := range tags.Keys(charge.Ctx()) {
		fmt.Fprintf(out, " %s=%s", key, ambient[key])
	}
	fmt.Fprintln(out)

	var chargeErr error
	if fail {
		chargeErr = errors.New("card declined")
	}
	tracer.RecordError(span, chargeErr)
	if err := charge.Exit(nil, chargeErr); err != nil {
		return fmt.Errorf("exit %s: %w", demoCharge, err)
	}

	paid, _ := place.Context().GetData("paid")
	fmt.Fprintf(out, "paid as seen by %s: %v\n", demoPlace.Name(), paid)
	if err := place.Exit("receipt-42", chargeErr); err != nil {
		return fmt.Errorf("exit %s: %w", demoPlace, err)
	}
	return nil
}
