package evidence

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestLedgerAppendAndSnapshot(t *testing.T) {
	led := NewLedger("req-1")
	if led.RequestID() != "req-1" {
		t.Errorf("RequestID() = %q", led.RequestID())
	}

	led.Append(NewToolCall("read_file", map[string]any{"path": "/tmp/a"}, "contents", true, "", "", time.Now(), time.Millisecond))
	led.Append(NewToolCall("launch_app", nil, "", false, "no display", "execution", time.Now(), time.Millisecond))

	calls := led.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Tool != "read_file" || !calls[0].OK {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].ErrorKind != "execution" {
		t.Errorf("second call ErrorKind = %q", calls[1].ErrorKind)
	}
	if calls[0].ID == "" || calls[0].ID == calls[1].ID {
		t.Error("call IDs must be unique and non-empty")
	}
}

func TestLedgerSnapshotIsolated(t *testing.T) {
	led := NewLedger("req-1")
	led.Append(NewToolCall("a", nil, "", true, "", "", time.Now(), 0))

	snapshot := led.Calls()
	led.Append(NewToolCall("b", nil, "", true, "", "", time.Now(), 0))

	if len(snapshot) != 1 {
		t.Error("snapshot should not track later appends")
	}
}

func TestToolCallCopiesArgs(t *testing.T) {
	args := map[string]any{"path": "/tmp/a"}
	call := NewToolCall("read_file", args, "", true, "", "", time.Now(), 0)

	args["path"] = "/tmp/mutated"
	if call.Args["path"] != "/tmp/a" {
		t.Error("recorded args must not alias caller's map")
	}
}

func TestLedgerConcurrentAppend(t *testing.T) {
	led := NewLedger("req-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			led.Append(NewToolCall("t", nil, "", true, "", "", time.Now(), 0))
		}()
	}
	wg.Wait()

	if led.Len() != 50 {
		t.Errorf("Len() = %d, want 50", led.Len())
	}
}

func TestToolNames(t *testing.T) {
	led := NewLedger("req-1")
	led.Append(NewToolCall("read_file", nil, "", true, "", "", time.Now(), 0))
	led.Append(NewToolCall("read_file", nil, "", true, "", "", time.Now(), 0))
	led.Append(NewToolCall("list_dir", nil, "", false, "x", "execution", time.Now(), 0))

	names := led.ToolNames()
	if len(names) != 2 || !names["read_file"] || !names["list_dir"] {
		t.Errorf("ToolNames() = %v", names)
	}
}

func TestSummariesTruncateResults(t *testing.T) {
	led := NewLedger("req-1")
	led.Append(NewToolCall("read_file", nil, strings.Repeat("x", 5000), true, "", "", time.Now(), time.Second))

	summaries := led.Summaries()
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries", len(summaries))
	}
	if len(summaries[0].Result) != 2048 {
		t.Errorf("result length = %d, want truncated to 2048", len(summaries[0].Result))
	}
	if summaries[0].Duration == "" {
		t.Error("summary should carry a duration string")
	}
}

func TestSummariesTruncateOnRuneBoundary(t *testing.T) {
	led := NewLedger("req-1")
	// Three-byte runes that do not divide 2048 evenly, so a byte cut would
	// land mid-rune.
	led.Append(NewToolCall("read_file", nil, strings.Repeat("日", 1000), true, "", "", time.Now(), time.Second))

	summaries := led.Summaries()
	result := summaries[0].Result
	if len(result) > 2048 {
		t.Fatalf("result length = %d, want at most 2048", len(result))
	}
	if !utf8.ValidString(result) {
		t.Error("truncated result is not valid UTF-8")
	}
	if len(result) != 2046 {
		t.Errorf("result length = %d, want 2046 (682 complete runes)", len(result))
	}
}
