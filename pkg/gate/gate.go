// Package gate validates draft responses against the evidence ledger.
//
// Every response leaves the pipeline through the truth gate. A draft that
// claims an action the ledger cannot support is rewritten; a draft whose
// claims are all backed by recorded calls is annotated with citations.
package gate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/schema"
)

// Outcome is the gate's verdict on one draft.
type Outcome struct {
	Result    schema.ValidationOutcome
	Text      string
	Citations []schema.Citation
}

// claimPattern matches first-person past-action claims and captures the
// verb: "I opened X", "I've read the file", "I just launched obs".
var claimPattern = regexp.MustCompile(`(?i)\bI(?:'ve|'d| have| had| just| already)*\s+(opened|launched|started|ran|executed|read|listed|switched|wrote|created|deleted|removed|closed|stopped|killed|checked|restarted|installed)\b`)

// verbTools maps claim verbs to the tool names whose successful calls can
// support them. A verb absent from this map is an unmapped claim.
var verbTools = map[string][]string{
	"opened":   {"launch_app"},
	"launched": {"launch_app"},
	"started":  {"launch_app"},
	"ran":      {"launch_app"},
	"executed": {"launch_app"},
	"read":     {"read_file"},
	"listed":   {"list_dir"},
	"switched": {"obs_scene"},
	"checked":  {"obs_status", "read_file", "list_dir"},
}

// TruthGate validates drafts. The zero value is not usable; call New.
type TruthGate struct {
	verbTools map[string][]string
}

// New creates a truth gate with the default verb mapping.
func New() *TruthGate {
	return &TruthGate{verbTools: verbTools}
}

// NewWithVerbs creates a truth gate with a custom verb-to-tool mapping.
func NewWithVerbs(mapping map[string][]string) *TruthGate {
	return &TruthGate{verbTools: mapping}
}

// Validate checks the draft against the ledger and returns the final text.
//
// No claims and nothing recorded: pass, draft unchanged. No claims but a
// non-empty ledger: annotate with every recorded call, so tool-backed
// responses always carry their citations. All claims supported by
// successful calls: annotate with citations in ledger order. Any mapped
// claim without support: rewrite, the draft is discarded entirely. Unmapped
// claim verbs rewrite when the ledger is empty and annotate with the full
// ledger otherwise.
func (g *TruthGate) Validate(draft string, led *evidence.Ledger) *Outcome {
	verbs := extractClaimVerbs(draft)
	calls := led.Calls()

	if len(verbs) == 0 {
		if len(calls) == 0 {
			return &Outcome{Result: schema.ValidationPass, Text: draft}
		}
		citations := buildCitations(calls, nil, true)
		return &Outcome{
			Result:    schema.ValidationAnnotate,
			Text:      annotate(draft, citations),
			Citations: citations,
		}
	}

	succeeded := successfulToolSet(calls)

	var (
		unsupported bool
		unmapped    bool
		supporting  = make(map[string]bool)
	)
	for _, verb := range verbs {
		tools, mapped := g.verbTools[verb]
		if !mapped {
			unmapped = true
			continue
		}
		backed := false
		for _, tool := range tools {
			if succeeded[tool] {
				backed = true
				supporting[tool] = true
			}
		}
		if !backed {
			unsupported = true
		}
	}

	if unsupported || (unmapped && len(calls) == 0) {
		return &Outcome{
			Result: schema.ValidationRewrite,
			Text:   rewriteFromLedger(calls),
		}
	}

	// All mapped claims are backed. Unmapped claims with a non-empty ledger
	// annotate with everything the ledger recorded.
	citations := buildCitations(calls, supporting, unmapped)
	return &Outcome{
		Result:    schema.ValidationAnnotate,
		Text:      annotate(draft, citations),
		Citations: citations,
	}
}

func extractClaimVerbs(draft string) []string {
	matches := claimPattern.FindAllStringSubmatch(draft, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var verbs []string
	for _, m := range matches {
		verb := strings.ToLower(m[1])
		if !seen[verb] {
			seen[verb] = true
			verbs = append(verbs, verb)
		}
	}
	return verbs
}

func successfulToolSet(calls []evidence.ToolCall) map[string]bool {
	set := make(map[string]bool)
	for _, call := range calls {
		if call.OK {
			set[call.Tool] = true
		}
	}
	return set
}

// buildCitations selects ledger calls in completion order. When all is set,
// every recorded call is cited; otherwise only successful calls to
// supporting tools are.
func buildCitations(calls []evidence.ToolCall, supporting map[string]bool, all bool) []schema.Citation {
	var citations []schema.Citation
	for i, call := range calls {
		if !all && !(call.OK && supporting[call.Tool]) {
			continue
		}
		citations = append(citations, schema.Citation{
			Tool:    call.Tool,
			Args:    call.Args,
			Result:  call.Result,
			OK:      call.OK,
			CallID:  call.ID,
			Ordinal: i + 1,
		})
	}
	return citations
}

// rewriteFromLedger builds the replacement text for a rejected draft. Only
// what the ledger actually recorded is reported.
func rewriteFromLedger(calls []evidence.ToolCall) string {
	if len(calls) == 0 {
		return "No action was taken for this request."
	}

	var sb strings.Builder
	sb.WriteString("Here is what actually happened:\n")
	for _, call := range calls {
		if call.OK {
			fmt.Fprintf(&sb, "  %s: %s\n", call.Tool, firstLine(call.Result))
		} else {
			fmt.Fprintf(&sb, "  %s: failed (%s)\n", call.Tool, call.Error)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func annotate(draft string, citations []schema.Citation) string {
	if len(citations) == 0 {
		return draft
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(draft, "\n"))
	sb.WriteString("\n")
	for _, c := range citations {
		fmt.Fprintf(&sb, "\n[%d] %s", c.Ordinal, c.Tool)
		if len(c.Args) > 0 {
			fmt.Fprintf(&sb, "(%s)", formatArgs(c.Args))
		}
		if c.OK {
			fmt.Fprintf(&sb, ": %s", firstLine(c.Result))
		} else {
			sb.WriteString(": failed")
		}
	}
	return sb.String()
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
