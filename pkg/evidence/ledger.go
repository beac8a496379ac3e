// Package evidence records tool invocations for a single request.
//
// A Ledger is created when dispatch begins and discarded when the response is
// returned; it is never shared between requests and never persisted.
package evidence

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zen-systems/cmdgate/pkg/schema"
)

// ToolCall is one recorded invocation. Immutable after creation; owned
// exclusively by the Ledger that recorded it.
type ToolCall struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// NewToolCall builds an immutable record for a completed invocation.
func NewToolCall(tool string, args map[string]any, result string, ok bool, errMsg, errKind string, startedAt time.Time, duration time.Duration) ToolCall {
	return ToolCall{
		ID:        uuid.NewString(),
		Tool:      tool,
		Args:      copyArgs(args),
		Result:    result,
		OK:        ok,
		Error:     errMsg,
		ErrorKind: errKind,
		StartedAt: startedAt,
		Duration:  duration,
	}
}

// Ledger is the append-only sequence of tool calls for one request.
//
// Entries appear in completion order, not planning order: when a plan runs
// its invocations concurrently, each append happens under the lock as the
// call finishes, so the truth gate always sees a consistent total order.
type Ledger struct {
	mu        sync.Mutex
	requestID string
	calls     []ToolCall
}

// NewLedger creates an empty ledger scoped to the given request.
func NewLedger(requestID string) *Ledger {
	return &Ledger{requestID: requestID}
}

// RequestID returns the request this ledger belongs to.
func (l *Ledger) RequestID() string {
	return l.requestID
}

// Append records a completed tool call.
func (l *Ledger) Append(call ToolCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns a snapshot of all recorded calls in completion order.
func (l *Ledger) Calls() []ToolCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ToolCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// Len returns the number of recorded calls.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// ToolNames returns the distinct tool names present in the ledger.
func (l *Ledger) ToolNames() map[string]bool {
	names := make(map[string]bool)
	for _, call := range l.Calls() {
		names[call.Tool] = true
	}
	return names
}

// Summaries converts the ledger into envelope-ready summaries, truncating
// oversized results so the envelope stays bounded.
func (l *Ledger) Summaries() []schema.ToolCallSummary {
	calls := l.Calls()
	summaries := make([]schema.ToolCallSummary, 0, len(calls))
	for _, call := range calls {
		summaries = append(summaries, schema.ToolCallSummary{
			Tool:     call.Tool,
			Args:     call.Args,
			Result:   truncate(call.Result, 2048),
			OK:       call.OK,
			Error:    call.Error,
			Duration: call.Duration.String(),
		})
	}
	return summaries
}

// truncate cuts value to at most limit bytes, backing off to a rune boundary
// so a multi-byte sequence is never split.
func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}

func copyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
