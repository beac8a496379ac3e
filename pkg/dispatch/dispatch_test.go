package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/planner"
	"github.com/zen-systems/cmdgate/pkg/registry"
)

func newTestRegistry(t *testing.T, tools ...registry.Tool) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestRunRecordsSuccess(t *testing.T) {
	reg := newTestRegistry(t, &registry.MockTool{ToolName: "echo", Result: "done"})
	d := New(reg)
	led := evidence.NewLedger("req-1")

	results := d.Run(context.Background(), []planner.Invocation{
		{Tool: "echo", Args: map[string]any{"x": "1"}},
	}, led)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("result error = %v", results[0].Err)
	}
	if results[0].Output != "done" {
		t.Errorf("Output = %q, want done", results[0].Output)
	}

	calls := led.Calls()
	if len(calls) != 1 {
		t.Fatalf("ledger has %d calls, want 1", len(calls))
	}
	call := calls[0]
	if !call.OK || call.Tool != "echo" || call.Result != "done" {
		t.Errorf("ledger call = %+v", call)
	}
	if call.ID != results[0].CallID {
		t.Error("result CallID should match ledger entry")
	}
}

func TestRunRecordsFailure(t *testing.T) {
	reg := newTestRegistry(t, &registry.MockTool{ToolName: "boom", Err: errors.New("kaput")})
	d := New(reg)
	led := evidence.NewLedger("req-1")

	results := d.Run(context.Background(), []planner.Invocation{{Tool: "boom"}}, led)

	if results[0].Err == nil {
		t.Fatal("expected error result")
	}
	call := led.Calls()[0]
	if call.OK {
		t.Error("failed call recorded as OK")
	}
	if call.ErrorKind != ErrKindExecution {
		t.Errorf("ErrorKind = %q, want execution", call.ErrorKind)
	}
}

func TestRunUnknownTool(t *testing.T) {
	d := New(newTestRegistry(t))
	led := evidence.NewLedger("req-1")

	results := d.Run(context.Background(), []planner.Invocation{{Tool: "ghost"}}, led)

	if results[0].Err == nil {
		t.Fatal("expected error result")
	}
	if led.Calls()[0].ErrorKind != ErrKindUnknownTool {
		t.Errorf("ErrorKind = %q, want unknown_tool", led.Calls()[0].ErrorKind)
	}
}

func TestRunTimeout(t *testing.T) {
	slow := &registry.MockTool{
		ToolName: "slow",
		InvokeFunc: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "never", nil
			}
		},
	}
	d := New(newTestRegistry(t, slow), WithCallTimeout(20*time.Millisecond))
	led := evidence.NewLedger("req-1")

	results := d.Run(context.Background(), []planner.Invocation{{Tool: "slow"}}, led)

	if results[0].Err == nil {
		t.Fatal("expected timeout error")
	}
	if led.Calls()[0].ErrorKind != ErrKindTimeout {
		t.Errorf("ErrorKind = %q, want timeout", led.Calls()[0].ErrorKind)
	}
}

func TestRunConcurrentAllRecorded(t *testing.T) {
	reg := newTestRegistry(t,
		&registry.MockTool{ToolName: "a", Result: "ra"},
		&registry.MockTool{ToolName: "b", Result: "rb"},
		&registry.MockTool{ToolName: "c", Err: errors.New("rc")},
	)
	d := New(reg, WithWorkers(2))
	led := evidence.NewLedger("req-1")

	results := d.Run(context.Background(), []planner.Invocation{
		{Tool: "a"}, {Tool: "b"}, {Tool: "c"},
	}, led)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if led.Len() != 3 {
		t.Fatalf("ledger has %d calls, want 3", led.Len())
	}

	var failures int
	for _, call := range led.Calls() {
		if !call.OK {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("ledger failures = %d, want 1", failures)
	}
}

func TestBuiltinCapabilities(t *testing.T) {
	reg := newTestRegistry(t, &registry.MockTool{
		ToolName:  "read_file",
		ArgSchema: registry.Schema{"path": {Type: "string", Required: true}},
	})
	b := NewBuiltins(BuiltinDeps{
		Registry:   reg,
		Dispatcher: New(reg),
		StartedAt:  time.Now(),
	})

	fn, ok := b.Get("capabilities")
	if !ok {
		t.Fatal("capabilities handler missing")
	}
	out, err := fn(context.Background(), evidence.NewLedger("req-1"))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !strings.Contains(out, "read_file") || !strings.Contains(out, "path") {
		t.Errorf("capabilities output missing tool info: %q", out)
	}
}

func TestBuiltinHealth(t *testing.T) {
	reg := newTestRegistry(t)
	b := NewBuiltins(BuiltinDeps{
		Registry:   reg,
		Dispatcher: New(reg),
		Adapters:   []string{"mock", "anthropic"},
		StartedAt:  time.Now().Add(-time.Minute),
	})

	fn, _ := b.Get("health")
	out, err := fn(context.Background(), evidence.NewLedger("req-1"))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !strings.HasPrefix(out, "ok") {
		t.Errorf("health output = %q, want ok prefix", out)
	}
	if !strings.Contains(out, "anthropic") {
		t.Errorf("health output should list adapters: %q", out)
	}
}

func TestBuiltinHealthStats(t *testing.T) {
	reg := newTestRegistry(t)
	b := NewBuiltins(BuiltinDeps{
		Registry:      reg,
		Dispatcher:    New(reg),
		StartedAt:     time.Now(),
		ActiveClients: func() int { return 3 },
		CachedEntries: func() int { return 7 },
	})

	fn, _ := b.Get("health")
	out, err := fn(context.Background(), evidence.NewLedger("req-1"))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !strings.Contains(out, "3 active clients") {
		t.Errorf("health output missing client count: %q", out)
	}
	if !strings.Contains(out, "7 cached responses") {
		t.Errorf("health output missing cache count: %q", out)
	}
}

func TestBuiltinOBSRecordsProbe(t *testing.T) {
	reg := newTestRegistry(t, &registry.MockTool{ToolName: "obs_status", Result: "streaming=true recording=false"})
	b := NewBuiltins(BuiltinDeps{
		Registry:   reg,
		Dispatcher: New(reg),
		StartedAt:  time.Now(),
	})
	led := evidence.NewLedger("req-1")

	fn, _ := b.Get("obs")
	out, err := fn(context.Background(), led)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !strings.Contains(out, "streaming=true") {
		t.Errorf("obs output = %q", out)
	}
	if led.Len() != 1 {
		t.Fatalf("probe not recorded in ledger: %d calls", led.Len())
	}
	if led.Calls()[0].Tool != "obs_status" {
		t.Errorf("ledger tool = %q, want obs_status", led.Calls()[0].Tool)
	}
}
