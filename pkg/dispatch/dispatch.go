// Package dispatch executes planned tool invocations and records every
// outcome in the request's evidence ledger.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/planner"
	"github.com/zen-systems/cmdgate/pkg/registry"
)

const (
	// ErrKindTimeout marks calls cut off by the per-call deadline.
	ErrKindTimeout = "timeout"
	// ErrKindExecution marks calls that ran and failed.
	ErrKindExecution = "execution"
	// ErrKindUnknownTool marks calls whose tool is not registered.
	ErrKindUnknownTool = "unknown_tool"
)

const (
	defaultWorkers     = 4
	defaultCallTimeout = 15 * time.Second
)

// Result pairs an invocation outcome with its ledger record ID.
type Result struct {
	CallID string
	Tool   string
	Output string
	Err    error
}

// Dispatcher runs invocations through a bounded worker pool. Every call,
// successful or not, lands in the ledger exactly once.
type Dispatcher struct {
	registry    *registry.Registry
	workers     int
	callTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds concurrent tool execution.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithCallTimeout sets the per-invocation deadline.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.callTimeout = timeout
		}
	}
}

// New creates a dispatcher over a tool registry.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		workers:     defaultWorkers,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes all invocations and returns results in completion order,
// matching the ledger. A failed call does not stop the rest of the plan.
func (d *Dispatcher) Run(ctx context.Context, invs []planner.Invocation, led *evidence.Ledger) []Result {
	if len(invs) == 0 {
		return nil
	}
	if len(invs) == 1 {
		return []Result{d.runOne(ctx, invs[0], led)}
	}

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, d.workers)

	for _, inv := range invs {
		wg.Add(1)
		go func(inv planner.Invocation) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := d.runOne(ctx, inv, led)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(inv)
	}
	wg.Wait()

	return results
}

// Invoke runs a single ad hoc invocation, recording it in the ledger. Builtin
// handlers use this to fan out to tools.
func (d *Dispatcher) Invoke(ctx context.Context, tool string, args map[string]any, led *evidence.Ledger) Result {
	return d.runOne(ctx, planner.Invocation{Tool: tool, Args: args}, led)
}

func (d *Dispatcher) runOne(ctx context.Context, inv planner.Invocation, led *evidence.Ledger) Result {
	started := time.Now()

	tool, ok := d.registry.Get(inv.Tool)
	if !ok {
		err := errors.New("unknown tool: " + inv.Tool)
		call := evidence.NewToolCall(inv.Tool, inv.Args, "", false, err.Error(), ErrKindUnknownTool, started, time.Since(started))
		led.Append(call)
		return Result{CallID: call.ID, Tool: inv.Tool, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	output, err := tool.Invoke(callCtx, inv.Args)
	duration := time.Since(started)

	if err != nil {
		kind := ErrKindExecution
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = ErrKindTimeout
		}
		call := evidence.NewToolCall(inv.Tool, inv.Args, "", false, err.Error(), kind, started, duration)
		led.Append(call)
		return Result{CallID: call.ID, Tool: inv.Tool, Err: err}
	}

	call := evidence.NewToolCall(inv.Tool, inv.Args, output, true, "", "", started, duration)
	led.Append(call)
	return Result{CallID: call.ID, Tool: inv.Tool, Output: output}
}
