package router

import (
	"sort"
	"strings"

	"github.com/zen-systems/cmdgate/pkg/config"
)

// RuleSet contains the compiled routing rules for pattern matching.
type RuleSet struct {
	config *config.RoutingConfig
	// Compiled rules ordered most specific first.
	rules []compiledRule
}

type ruleAction int

const (
	actionFastPath ruleAction = iota
	actionTool
	actionBuiltIn
)

// compiledRule is one trigger or pattern bound to its action. Tool patterns
// are tokenized; a token of the form {name} captures an argument.
type compiledRule struct {
	name   string
	action ruleAction

	// trigger is the lowercase phrase for fastpath and builtin rules.
	trigger string

	// tokens is the pattern for tool rules; captures marks placeholder slots.
	tokens   []string
	captures []string

	reply   string
	tool    string
	args    map[string]string
	handler string

	specificity specificity
}

// specificity ranks rules so that action-plus-target patterns outrank bare
// keywords regardless of declaration order.
type specificity struct {
	literalTokens int
	boundCaptures int
	literalLen    int
}

func (s specificity) less(o specificity) bool {
	if s.literalTokens != o.literalTokens {
		return s.literalTokens < o.literalTokens
	}
	if s.boundCaptures != o.boundCaptures {
		return s.boundCaptures < o.boundCaptures
	}
	return s.literalLen < o.literalLen
}

// NewRuleSet creates a new rule set from routing configuration.
func NewRuleSet(cfg *config.RoutingConfig) *RuleSet {
	rs := &RuleSet{config: cfg}
	rs.compile()
	return rs
}

// compile builds the rule list sorted by computed specificity, most specific
// first, with rule name as the deterministic tie-break.
func (rs *RuleSet) compile() {
	rs.rules = nil

	for name, fp := range rs.config.FastPaths {
		for _, trigger := range fp.Triggers {
			rs.rules = append(rs.rules, compileTrigger(name, actionFastPath, trigger, compiledRule{
				reply: fp.Reply,
			}))
		}
	}

	for name, tr := range rs.config.Tools {
		for _, pattern := range tr.Patterns {
			rs.rules = append(rs.rules, compilePattern(name, pattern, tr))
		}
	}

	for name, b := range rs.config.Builtins {
		handler := b.Handler
		if handler == "" {
			handler = name
		}
		for _, trigger := range b.Triggers {
			rs.rules = append(rs.rules, compileTrigger(name, actionBuiltIn, trigger, compiledRule{
				handler: handler,
			}))
		}
	}

	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i], rs.rules[j]
		if a.specificity != b.specificity {
			return b.specificity.less(a.specificity)
		}
		return a.name < b.name
	})
}

func compileTrigger(name string, action ruleAction, trigger string, base compiledRule) compiledRule {
	rule := base
	rule.name = name
	rule.action = action
	rule.trigger = strings.ToLower(strings.TrimSpace(trigger))
	rule.specificity = specificity{
		literalTokens: len(strings.Fields(rule.trigger)),
		literalLen:    len(rule.trigger),
	}
	return rule
}

func compilePattern(name, pattern string, tr config.ToolRule) compiledRule {
	rule := compiledRule{
		name:   name,
		action: actionTool,
		tool:   tr.Tool,
		args:   tr.Args,
	}

	for _, token := range strings.Fields(strings.ToLower(pattern)) {
		if strings.HasPrefix(token, "{") && strings.HasSuffix(token, "}") {
			capture := strings.Trim(token, "{}")
			rule.tokens = append(rule.tokens, "")
			rule.captures = append(rule.captures, capture)
			rule.specificity.boundCaptures++
			continue
		}
		rule.tokens = append(rule.tokens, token)
		rule.captures = append(rule.captures, "")
		rule.specificity.literalTokens++
		rule.specificity.literalLen += len(token)
	}

	return rule
}

// match reports whether the rule matches the input. Triggers match on the
// lowered text; tool patterns compare tokens case-insensitively but bind
// captures from the original text so paths keep their casing.
func (r *compiledRule) match(text, lowered string) (map[string]any, bool) {
	if r.action != actionTool {
		if containsTrigger(lowered, r.trigger) {
			return nil, true
		}
		return nil, false
	}
	return matchPattern(r, strings.Fields(text))
}

// matchPattern aligns the pattern against a contiguous window of input
// tokens. Placeholders bind a single token, except a trailing placeholder,
// which greedily captures the rest of the input.
func matchPattern(r *compiledRule, words []string) (map[string]any, bool) {
	n := len(r.tokens)
	if n == 0 || len(words) < n {
		return nil, false
	}

	trailing := r.captures[n-1] != ""

	for start := 0; start+n <= len(words); start++ {
		args := make(map[string]any, len(r.args)+n)
		matched := true
		for i := 0; i < n; i++ {
			word := words[start+i]
			if r.captures[i] != "" {
				if i == n-1 && trailing {
					args[r.captures[i]] = strings.Join(words[start+i:], " ")
				} else {
					args[r.captures[i]] = word
				}
				continue
			}
			if strings.ToLower(word) != r.tokens[i] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		for k, v := range r.args {
			args[k] = v
		}
		return args, true
	}

	return nil, false
}

// containsTrigger checks if the prompt contains the trigger phrase.
// It looks for the trigger as a word or phrase boundary match.
func containsTrigger(prompt, trigger string) bool {
	idx := strings.Index(prompt, trigger)
	if idx == -1 {
		return false
	}

	// Check word boundary before trigger
	if idx > 0 {
		prev := prompt[idx-1]
		if isWordChar(prev) {
			return false
		}
	}

	// Check word boundary after trigger
	endIdx := idx + len(trigger)
	if endIdx < len(prompt) {
		next := prompt[endIdx]
		if isWordChar(next) {
			return false
		}
	}

	return true
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
