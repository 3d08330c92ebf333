package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointTestConfig struct {
	Addr string `env:"PAIRCAST_TEST_ENTRYPOINT_ADDR" envDefault:":5000"`
}

func TestParseConfigDefaults(t *testing.T) {
	var cfg entrypointTestConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":5000" {
		t.Fatalf("addr = %q, want :5000", cfg.Addr)
	}
}

func TestParseConfigNilTarget(t *testing.T) {
	if err := ParseConfig[entrypointTestConfig](nil); err == nil {
		t.Fatal("expected error for nil target")
	}
}

func TestParseArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	value := fs.String("addr", "", "")
	if err := ParseArgs(fs, []string{"-addr", ":6000"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if *value != ":6000" {
		t.Fatalf("addr = %q, want :6000", *value)
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), "  ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceMessenger, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
