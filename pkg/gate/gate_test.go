package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/schema"
)

func recordCall(led *evidence.Ledger, tool, result string, ok bool) {
	errMsg := ""
	if !ok {
		errMsg = "failed"
	}
	led.Append(evidence.NewToolCall(tool, map[string]any{"k": "v"}, result, ok, errMsg, "", time.Now(), time.Millisecond))
}

// Tool-backed responses carry citations even when the draft makes no
// first-person claims.
func TestValidateAnnotatesToolResultsWithoutClaims(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")
	recordCall(led, "read_file", "127.0.0.1 localhost", true)

	out := g.Validate("127.0.0.1 localhost", led)

	if out.Result != schema.ValidationAnnotate {
		t.Fatalf("Result = %q, want annotate", out.Result)
	}
	if len(out.Citations) != 1 || out.Citations[0].Tool != "read_file" {
		t.Errorf("Citations = %+v, want one read_file citation", out.Citations)
	}
	if !strings.Contains(out.Text, "127.0.0.1 localhost") {
		t.Errorf("draft content lost: %q", out.Text)
	}
}

func TestValidatePassWithoutClaims(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")

	tests := []string{
		"DNS resolution maps names to addresses through a resolver chain.",
		"You can open OBS from the applications menu.",
		"The file contains three sections.",
	}

	for _, draft := range tests {
		t.Run(draft[:20], func(t *testing.T) {
			out := g.Validate(draft, led)
			if out.Result != schema.ValidationPass {
				t.Errorf("Result = %q, want pass", out.Result)
			}
			if out.Text != draft {
				t.Errorf("pass must not alter text")
			}
			if len(out.Citations) != 0 {
				t.Errorf("pass should carry no citations")
			}
		})
	}
}

// A claimed action with no backing ledger entry discards the draft entirely.
func TestValidateRewriteUnsupportedClaim(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")

	out := g.Validate("I opened OBS for you and it is ready to stream.", led)

	if out.Result != schema.ValidationRewrite {
		t.Fatalf("Result = %q, want rewrite", out.Result)
	}
	if strings.Contains(out.Text, "I opened") {
		t.Errorf("rewritten text retains the false claim: %q", out.Text)
	}
	if strings.Contains(out.Text, "ready to stream") {
		t.Errorf("rewrite must discard the draft, got %q", out.Text)
	}
}

func TestValidateRewriteFailedCall(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")
	recordCall(led, "launch_app", "", false)

	out := g.Validate("I launched the app.", led)

	if out.Result != schema.ValidationRewrite {
		t.Fatalf("Result = %q, want rewrite", out.Result)
	}
	if !strings.Contains(out.Text, "launch_app") {
		t.Errorf("rewrite should report what actually happened: %q", out.Text)
	}
	if !strings.Contains(out.Text, "failed") {
		t.Errorf("rewrite should surface the failure: %q", out.Text)
	}
}

func TestValidateAnnotateSupportedClaim(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")
	recordCall(led, "launch_app", "launched obs", true)

	out := g.Validate("I opened OBS.", led)

	if out.Result != schema.ValidationAnnotate {
		t.Fatalf("Result = %q, want annotate", out.Result)
	}
	if !strings.Contains(out.Text, "I opened OBS.") {
		t.Errorf("annotate should keep the draft: %q", out.Text)
	}
	if len(out.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(out.Citations))
	}
	c := out.Citations[0]
	if c.Tool != "launch_app" || !c.OK || c.Ordinal != 1 || c.CallID == "" {
		t.Errorf("citation = %+v", c)
	}
	if !strings.Contains(out.Text, "[1] launch_app") {
		t.Errorf("citation not appended to text: %q", out.Text)
	}
}

func TestValidateCitationsInLedgerOrder(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")
	recordCall(led, "read_file", "contents", true)
	recordCall(led, "launch_app", "launched obs", true)

	out := g.Validate("I read the file and then I opened the app.", led)

	if out.Result != schema.ValidationAnnotate {
		t.Fatalf("Result = %q, want annotate", out.Result)
	}
	if len(out.Citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(out.Citations))
	}
	if out.Citations[0].Tool != "read_file" || out.Citations[0].Ordinal != 1 {
		t.Errorf("first citation = %+v, want read_file ordinal 1", out.Citations[0])
	}
	if out.Citations[1].Tool != "launch_app" || out.Citations[1].Ordinal != 2 {
		t.Errorf("second citation = %+v, want launch_app ordinal 2", out.Citations[1])
	}
}

func TestValidateMixedClaimsRewrite(t *testing.T) {
	g := New()
	led := evidence.NewLedger("req-1")
	recordCall(led, "read_file", "contents", true)

	// One supported claim plus one unsupported claim still rewrites.
	out := g.Validate("I read the file and I launched the backup job.", led)

	if out.Result != schema.ValidationRewrite {
		t.Fatalf("Result = %q, want rewrite", out.Result)
	}
	if !strings.Contains(out.Text, "read_file") {
		t.Errorf("rewrite should report the recorded call: %q", out.Text)
	}
}

func TestValidateUnmappedVerb(t *testing.T) {
	g := New()

	t.Run("empty ledger rewrites", func(t *testing.T) {
		led := evidence.NewLedger("req-1")
		out := g.Validate("I deleted the old logs.", led)
		if out.Result != schema.ValidationRewrite {
			t.Errorf("Result = %q, want rewrite", out.Result)
		}
	})

	t.Run("non-empty ledger annotates everything", func(t *testing.T) {
		led := evidence.NewLedger("req-1")
		recordCall(led, "list_dir", "a.txt\nb.txt", true)
		recordCall(led, "read_file", "", false)

		out := g.Validate("I deleted the old logs.", led)
		if out.Result != schema.ValidationAnnotate {
			t.Fatalf("Result = %q, want annotate", out.Result)
		}
		if len(out.Citations) != 2 {
			t.Errorf("got %d citations, want the full ledger", len(out.Citations))
		}
	})
}

func TestExtractClaimVerbs(t *testing.T) {
	tests := []struct {
		name  string
		draft string
		want  []string
	}{
		{"simple past", "I opened the app", []string{"opened"}},
		{"contracted perfect", "I've read the file", []string{"read"}},
		{"just modifier", "I just launched obs", []string{"launched"}},
		{"stacked modifiers", "I've just opened Firefox for you", []string{"opened"}},
		{"have already", "I have already opened the settings panel", []string{"opened"}},
		{"two distinct verbs", "I opened X. Then I read Y.", []string{"opened", "read"}},
		{"dedupes", "I opened X and I opened Y", []string{"opened"}},
		{"second person is not a claim", "You opened the wrong file", nil},
		{"future is not a claim", "I will open the app", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractClaimVerbs(tt.draft)
			if len(got) != len(tt.want) {
				t.Fatalf("verbs = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("verbs = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
