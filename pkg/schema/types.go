package schema

import (
	"time"

	"github.com/google/uuid"
)

// Mode identifies which pipeline path produced a response.
type Mode string

const (
	ModeFastPath Mode = "fastpath"
	ModeTool     Mode = "tool"
	ModeBuiltin  Mode = "builtin"
	ModeRAG      Mode = "rag"
)

// Request is a single inbound command. Immutable once constructed.
type Request struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	ClientKey  string    `json:"client_key"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewRequest builds a Request with a fresh ID and arrival timestamp.
func NewRequest(text, clientKey string) Request {
	return Request{
		ID:         uuid.NewString(),
		Text:       text,
		ClientKey:  clientKey,
		ReceivedAt: time.Now().UTC(),
	}
}

// ToolCallSummary is the caller-visible view of one recorded tool invocation.
type ToolCallSummary struct {
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	Result   string         `json:"result,omitempty"`
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Duration string         `json:"duration,omitempty"`
}

// ErrorRecord captures a non-fatal failure surfaced in the envelope.
type ErrorRecord struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Tool    string `json:"tool,omitempty"`
}

// Citation backs an action claim with the ledger entry that proves it.
type Citation struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Result  string         `json:"result,omitempty"`
	OK      bool           `json:"ok"`
	CallID  string         `json:"call_id"`
	Ordinal int            `json:"ordinal"`
}

// ValidationOutcome records what the truth gate did to a response.
type ValidationOutcome string

const (
	ValidationPass      ValidationOutcome = "pass"
	ValidationRewrite   ValidationOutcome = "rewrite"
	ValidationAnnotate  ValidationOutcome = "annotate"
	ValidationUnchecked ValidationOutcome = ""
)

// ResponseEnvelope is the only object that crosses the process boundary to
// the caller. Structured end to end; never free text with embedded markers.
type ResponseEnvelope struct {
	RequestID  string            `json:"request_id"`
	Text       string            `json:"text"`
	Mode       Mode              `json:"mode"`
	Route      string            `json:"route,omitempty"`
	Evidence   []ToolCallSummary `json:"evidence,omitempty"`
	Citations  []Citation        `json:"citations,omitempty"`
	Errors     []ErrorRecord     `json:"errors,omitempty"`
	Validation ValidationOutcome `json:"validation,omitempty"`
	CacheHit   bool              `json:"cache_hit,omitempty"`
	Sources    []string          `json:"sources,omitempty"`
}

// HasErrors reports whether any non-fatal errors were recorded.
func (e *ResponseEnvelope) HasErrors() bool {
	return len(e.Errors) > 0
}
