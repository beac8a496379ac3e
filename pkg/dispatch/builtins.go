package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/registry"
)

// HandlerFunc is a builtin handler. Handlers produce the response text and
// may fan out to registry tools; every fan-out call is recorded in the
// ledger like any other invocation.
type HandlerFunc func(ctx context.Context, led *evidence.Ledger) (string, error)

// Builtins holds the named local handlers.
type Builtins struct {
	handlers map[string]HandlerFunc
}

// BuiltinDeps carries what the standard handlers need. The stat funcs are
// optional; handlers skip whatever is nil.
type BuiltinDeps struct {
	Registry   *registry.Registry
	Dispatcher *Dispatcher
	Adapters   []string
	StartedAt  time.Time

	ActiveClients func() int
	CachedEntries func() int
}

// NewBuiltins creates the standard handler set: health, capabilities, obs.
func NewBuiltins(deps BuiltinDeps) *Builtins {
	b := &Builtins{handlers: make(map[string]HandlerFunc)}
	b.Register("health", healthHandler(deps))
	b.Register("capabilities", capabilitiesHandler(deps))
	b.Register("obs", obsHandler(deps))
	return b
}

// Register adds or replaces a handler.
func (b *Builtins) Register(name string, fn HandlerFunc) {
	b.handlers[name] = fn
}

// Get returns a handler by name.
func (b *Builtins) Get(name string) (HandlerFunc, bool) {
	fn, ok := b.handlers[name]
	return fn, ok
}

// Names returns the registered handler names, sorted.
func (b *Builtins) Names() []string {
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func healthHandler(deps BuiltinDeps) HandlerFunc {
	return func(ctx context.Context, led *evidence.Ledger) (string, error) {
		uptime := time.Since(deps.StartedAt).Round(time.Second)
		adapters := append([]string(nil), deps.Adapters...)
		sort.Strings(adapters)

		var sb strings.Builder
		sb.WriteString("ok")
		fmt.Fprintf(&sb, " | uptime %s", uptime)
		fmt.Fprintf(&sb, " | %d tools", len(deps.Registry.Names()))
		if len(adapters) > 0 {
			fmt.Fprintf(&sb, " | adapters: %s", strings.Join(adapters, ", "))
		}
		if deps.ActiveClients != nil {
			fmt.Fprintf(&sb, " | %d active clients", deps.ActiveClients())
		}
		if deps.CachedEntries != nil {
			fmt.Fprintf(&sb, " | %d cached responses", deps.CachedEntries())
		}
		return sb.String(), nil
	}
}

func capabilitiesHandler(deps BuiltinDeps) HandlerFunc {
	return func(ctx context.Context, led *evidence.Ledger) (string, error) {
		var sb strings.Builder
		sb.WriteString("Available tools:\n")
		for _, name := range deps.Registry.Names() {
			tool, ok := deps.Registry.Get(name)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  %s", name)
			schema := tool.Schema()
			if len(schema) > 0 {
				fields := make([]string, 0, len(schema))
				for field, spec := range schema {
					if spec.Required {
						fields = append(fields, field)
					} else {
						fields = append(fields, field+"?")
					}
				}
				sort.Strings(fields)
				fmt.Fprintf(&sb, "(%s)", strings.Join(fields, ", "))
			}
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
}

// obsHandler probes the OBS controller through the registered obs_status
// tool so the probe shows up in the evidence ledger.
func obsHandler(deps BuiltinDeps) HandlerFunc {
	return func(ctx context.Context, led *evidence.Ledger) (string, error) {
		res := deps.Dispatcher.Invoke(ctx, "obs_status", nil, led)
		if res.Err != nil {
			return "", fmt.Errorf("obs status unavailable: %w", res.Err)
		}
		return "OBS: " + res.Output, nil
	}
}
