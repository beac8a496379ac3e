package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDeepSeekAdapterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "answer text"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	a, err := NewDeepSeekAdapter("test-key")
	if err != nil {
		t.Fatal(err)
	}
	a.baseURL = srv.URL

	resp, err := a.Generate(context.Background(), "deepseek-chat", "question")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Artifact.Content != "answer text" {
		t.Errorf("Content = %q", resp.Artifact.Content)
	}
	if resp.Artifact.Metadata["finish_reason"] != "stop" {
		t.Errorf("Metadata = %v, want finish_reason=stop", resp.Artifact.Metadata)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 17 {
		t.Errorf("Usage = %+v, want 17 total tokens", resp.Usage)
	}
}

func TestMockAdapterGenerate(t *testing.T) {
	mock := NewMockAdapter()

	resp, err := mock.Generate(context.Background(), "mock-1", "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Artifact == nil || !strings.Contains(resp.Artifact.Content, "hello") {
		t.Errorf("response = %+v", resp)
	}
	if mock.Calls != 1 {
		t.Errorf("Calls = %d, want 1", mock.Calls)
	}
}

func TestMockAdapterFixedResponse(t *testing.T) {
	mock := NewMockAdapter()
	mock.SetResponse("ping", "pong")

	resp, err := mock.Generate(context.Background(), "mock-1", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Artifact.Content != "pong" {
		t.Errorf("Content = %q, want pong", resp.Artifact.Content)
	}
}

func TestMockAdapterError(t *testing.T) {
	mock := NewMockAdapter()
	mock.Err = errors.New("down")

	if _, err := mock.Generate(context.Background(), "mock-1", "x"); err == nil {
		t.Fatal("expected configured error")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"temporary adapter error", &AdapterError{Temporary: true}, true},
		{"rate limited", &AdapterError{Status: 429}, true},
		{"server error", &AdapterError{Status: 503}, true},
		{"auth error", &AdapterError{Status: 401}, false},
		{"bad request", &AdapterError{Status: 400}, false},
		{"wrapped transient", &AdapterError{Status: 500, Err: errors.New("upstream")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	transient := &AdapterError{Status: 503}

	if !ShouldRetry(transient, 0, 2) {
		t.Error("transient error within budget should retry")
	}
	if ShouldRetry(transient, 2, 2) {
		t.Error("exhausted budget should not retry")
	}
	if ShouldRetry(&AdapterError{Status: 401}, 0, 2) {
		t.Error("permanent error should never retry")
	}
}

func TestAdapterErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &AdapterError{Status: 500, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("AdapterError should unwrap to its cause")
	}
	if err.Error() != "inner" {
		t.Errorf("Error() = %q", err.Error())
	}
}
