// Package planner turns routing decisions into executable plans.
//
// Planning is deterministic and side-effect free: it validates arguments
// against the tool registry but never invokes anything.
package planner

import (
	"fmt"

	"github.com/zen-systems/cmdgate/pkg/registry"
	"github.com/zen-systems/cmdgate/pkg/router"
)

// PlanningError reports a decision that cannot become a valid plan. Field is
// set when a required argument is missing so callers can name it.
type PlanningError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *PlanningError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("plan %s: missing required argument %q", e.Tool, e.Field)
	}
	return fmt.Sprintf("plan %s: %s", e.Tool, e.Reason)
}

// Invocation is one validated tool call ready for dispatch.
type Invocation struct {
	Tool string
	Args map[string]any
}

// Plan is the executable form of a decision. Exactly one of Invocations or
// Handler is populated for tool and builtin decisions; both are empty for
// fastpath and delegate decisions, which need no tool work up front.
type Plan struct {
	Invocations []Invocation
	Handler     string
}

// Planner validates and expands decisions against the tool registry.
type Planner struct {
	registry *registry.Registry
}

// New creates a planner over a registry.
func New(reg *registry.Registry) *Planner {
	return &Planner{registry: reg}
}

// Plan converts a decision into a plan. Unknown tools and schema violations
// fail here, before any execution can start.
func (p *Planner) Plan(d *router.Decision) (*Plan, error) {
	switch d.Kind {
	case router.KindFastPath, router.KindDelegate:
		return &Plan{}, nil

	case router.KindBuiltIn:
		return &Plan{Handler: d.Handler}, nil

	case router.KindDirectTool:
		inv, err := p.planTool(d)
		if err != nil {
			return nil, err
		}
		return &Plan{Invocations: []Invocation{*inv}}, nil

	default:
		return nil, &PlanningError{Tool: d.Tool, Reason: fmt.Sprintf("unknown decision kind %q", d.Kind)}
	}
}

func (p *Planner) planTool(d *router.Decision) (*Invocation, error) {
	if _, ok := p.registry.Get(d.Tool); !ok {
		return nil, &PlanningError{Tool: d.Tool, Reason: "unknown tool"}
	}

	args := d.Args
	if args == nil {
		args = map[string]any{}
	}

	if missing := p.registry.MissingRequired(d.Tool, args); len(missing) > 0 {
		return nil, &PlanningError{Tool: d.Tool, Field: missing[0]}
	}
	if err := p.registry.Validate(d.Tool, args); err != nil {
		return nil, &PlanningError{Tool: d.Tool, Reason: err.Error()}
	}

	return &Invocation{Tool: d.Tool, Args: args}, nil
}
