// Package router classifies request text into routing decisions.
//
// Classification is pure and deterministic: no I/O, no clock, no model
// calls. The same text against the same rule set always yields the same
// decision.
package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/cmdgate/pkg/config"
)

// ParseError reports structurally invalid explicit tool syntax.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid tool syntax: %s", e.Reason)
}

// Router maps request text onto decisions using a compiled rule set.
type Router struct {
	rules  *RuleSet
	config *config.RoutingConfig
}

// New creates a router from routing configuration.
func New(cfg *config.RoutingConfig) *Router {
	return &Router{
		rules:  NewRuleSet(cfg),
		config: cfg,
	}
}

// explicitCall is the wire form of the explicit tool syntax:
//
//	{"tool": "read_file", "args": {"path": "/tmp/x"}}
type explicitCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Classify routes text to a decision. Explicit JSON tool syntax wins over
// every rule; otherwise the most specific matching rule applies; text that
// matches nothing delegates to the configured model.
func (r *Router) Classify(text string) (*Decision, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &ParseError{Reason: "empty request text"}
	}

	if strings.HasPrefix(trimmed, "{") {
		return classifyExplicit(trimmed)
	}

	lowered := strings.ToLower(trimmed)

	for i := range r.rules.rules {
		rule := &r.rules.rules[i]
		args, ok := rule.match(trimmed, lowered)
		if !ok {
			continue
		}
		switch rule.action {
		case actionFastPath:
			return &Decision{Kind: KindFastPath, Rule: rule.name, Reply: rule.reply}, nil
		case actionTool:
			return &Decision{Kind: KindDirectTool, Rule: rule.name, Tool: rule.tool, Args: args}, nil
		case actionBuiltIn:
			return &Decision{Kind: KindBuiltIn, Rule: rule.name, Handler: rule.handler}, nil
		}
	}

	return &Decision{
		Kind:      KindDelegate,
		Rule:      "delegate",
		Query:     trimmed,
		Cacheable: !r.matchesLiveState(lowered),
	}, nil
}

// classifyExplicit parses the explicit tool syntax. Text that opens with a
// brace is committed to this path; malformed JSON is a parse error rather
// than a delegate fallthrough.
func classifyExplicit(text string) (*Decision, error) {
	var call explicitCall
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&call); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if call.Tool == "" {
		return nil, &ParseError{Reason: "missing tool name"}
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return &Decision{
		Kind: KindDirectTool,
		Rule: "explicit",
		Tool: call.Tool,
		Args: call.Args,
	}, nil
}

// matchesLiveState reports whether the text touches live host state.
func (r *Router) matchesLiveState(lowered string) bool {
	for _, trigger := range r.config.LiveStateTriggers {
		if containsTrigger(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}
