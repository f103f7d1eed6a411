package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRunnableExecutor_SequenceStopsAtFailure(t *testing.T) {
	m := newModule("billing", "api")
	procs := newFakeProcessManager()
	procs.fail["two"] = true
	x := NewRunnableExecutor(procs)
	ec := NewExecutionContext("/work", mustRegistry(t, m), Options{})

	err := x.Run(context.Background(), ec, m, Sequence(Command("one"), Command("two"), Command("three")), nil)
	if err == nil {
		t.Fatal("Expected error from failing step")
	}
	if !strings.Contains(err.Error(), "step 2") {
		t.Errorf("Expected step index in error, got %q", err.Error())
	}
	if got := procs.Calls(); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("Expected [one two], got %v", got)
	}
}

func TestRunnableExecutor_CaptureConcatenates(t *testing.T) {
	m := newModule("billing", "api")
	procs := newFakeProcessManager()
	procs.outputs["host"] = "localhost"
	procs.outputs["port"] = ":8080\n"
	x := NewRunnableExecutor(procs)
	ec := NewExecutionContext("/work", mustRegistry(t, m), Options{})

	out, err := x.Capture(context.Background(), ec, m, Sequence(Command("host"), Command("port")), nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if out != "localhost:8080" {
		t.Errorf("Expected localhost:8080, got %q", out)
	}
}

func TestRunnableExecutor_Callback(t *testing.T) {
	m := newModule("billing", "api")
	x := NewRunnableExecutor(newFakeProcessManager())
	ec := NewExecutionContext("/work", mustRegistry(t, m), Options{})

	var seen string
	cb := Callback("name", func(_ context.Context, module *Module) (string, error) {
		seen = module.Name
		return module.Name + "\n", nil
	})

	out, err := x.Capture(context.Background(), ec, m, cb, nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if out != "billing" || seen != "billing" {
		t.Errorf("Expected callback to receive and return billing, got %q/%q", out, seen)
	}

	failing := Callback("boom", func(context.Context, *Module) (string, error) {
		return "", errors.New("boom")
	})
	if err := x.Run(context.Background(), ec, m, failing, nil); ErrorCode(err) != ErrCodeRunnableFailed {
		t.Errorf("Expected runnable failure, got %v", err)
	}
}

func TestRunnableExecutor_UnknownKind(t *testing.T) {
	m := newModule("billing", "api")
	x := NewRunnableExecutor(newFakeProcessManager())
	ec := NewExecutionContext("/work", mustRegistry(t, m), Options{})

	err := x.Run(context.Background(), ec, m, Runnable{Kind: "lambda"}, nil)
	var us *UnhandledStateError
	if !errors.As(err, &us) {
		t.Errorf("Expected UnhandledStateError, got %v", err)
	}
}

func TestRunnable_IsZeroAndString(t *testing.T) {
	tests := []struct {
		name     string
		r        Runnable
		wantZero bool
		wantStr  string
	}{
		{name: "command", r: Command("make"), wantStr: "make"},
		{name: "blank command", r: Command("  "), wantZero: true, wantStr: "  "},
		{name: "sequence", r: Sequence(Command("a"), Command("b")), wantStr: "[a; b]"},
		{name: "empty sequence", r: Sequence(), wantZero: true, wantStr: "[]"},
		{name: "callback", r: Callback("seed", func(context.Context, *Module) (string, error) { return "", nil }), wantStr: "callback:seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsZero(); got != tt.wantZero {
				t.Errorf("IsZero() = %v, want %v", got, tt.wantZero)
			}
			if got := tt.r.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestParseValueIdentifier(t *testing.T) {
	tests := []struct {
		in        string
		svc, prov string
		wantErr   bool
	}{
		{in: "api.port", svc: "api", prov: "port"},
		{in: "db-main.dsn_ro", svc: "db-main", prov: "dsn_ro"},
		{in: "api", wantErr: true},
		{in: ".port", wantErr: true},
		{in: "api.", wantErr: true},
		{in: "api.a.b", wantErr: true},
	}

	for _, tt := range tests {
		svc, prov, err := ParseValueIdentifier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseValueIdentifier(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if svc != tt.svc || prov != tt.prov {
			t.Errorf("ParseValueIdentifier(%q) = %q, %q", tt.in, svc, prov)
		}
	}
}
