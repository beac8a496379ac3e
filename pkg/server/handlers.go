package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/cmdgate/pkg/pipeline"
	"github.com/zen-systems/cmdgate/pkg/schema"
)

// streamChunkSize is the largest text slice sent per SSE chunk event.
const streamChunkSize = 160

// heartbeatInterval paces keepalive comments while the pipeline works.
const heartbeatInterval = 10 * time.Second

type runRequest struct {
	Text string `json:"text"`
	// Command is an accepted alias for Text.
	Command   string `json:"command,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
}

func (r *runRequest) text() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Command
}

type batchRequest struct {
	Requests []runRequest `json:"requests"`
	// Commands is the bare-string alias form.
	Commands []string `json:"commands,omitempty"`
}

func (b *batchRequest) items() []runRequest {
	if len(b.Requests) > 0 {
		return b.Requests
	}
	items := make([]runRequest, len(b.Commands))
	for i, cmd := range b.Commands {
		items[i] = runRequest{Text: cmd}
	}
	return items
}

type batchItem struct {
	Envelope *schema.ResponseEnvelope `json:"envelope,omitempty"`
	Error    *errorBody               `json:"error,omitempty"`
}

type errorBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "cmdgate"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	env, err := s.pipeline.Handle(r.Context(), schema.NewRequest(req.text(), req.ClientKey))
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var batch batchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error(), 0)
		return
	}
	reqs := batch.items()
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "requests is empty", 0)
		return
	}
	if len(reqs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("batch exceeds %d requests", maxBatchSize), 0)
		return
	}

	headerKey := clientKeyFromHeader(r)
	items := make([]batchItem, len(reqs))

	var wg sync.WaitGroup
	for i, item := range reqs {
		wg.Add(1)
		go func(i int, item runRequest) {
			defer wg.Done()
			key := item.ClientKey
			if key == "" {
				key = headerKey
			}
			env, err := s.pipeline.Handle(r.Context(), schema.NewRequest(item.text(), key))
			if err != nil {
				items[i] = batchItem{Error: toErrorBody(err)}
				return
			}
			items[i] = batchItem{Envelope: env}
		}(i, item)
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// handleStream runs the full pipeline, then streams the validated text over
// SSE. Nothing reaches the wire before the truth gate has seen it; the
// stream carries heartbeats while the pipeline works.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported by connection", 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type outcome struct {
		env *schema.ResponseEnvelope
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		env, err := s.pipeline.Handle(r.Context(), schema.NewRequest(req.text(), req.ClientKey))
		done <- outcome{env, err}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var result outcome
wait:
	for {
		select {
		case result = <-done:
			break wait
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}

	if result.err != nil {
		writeSSE(w, flusher, "error", toErrorBody(result.err))
		return
	}

	env := result.env
	writeSSE(w, flusher, "meta", map[string]any{
		"request_id": env.RequestID,
		"mode":       env.Mode,
		"route":      env.Route,
		"cache_hit":  env.CacheHit,
	})
	for _, chunk := range chunkText(env.Text, streamChunkSize) {
		writeSSE(w, flusher, "chunk", map[string]string{"text": chunk})
	}
	writeSSE(w, flusher, "done", env)
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Text = q.Get("text")
		req.Command = q.Get("command")
		req.ClientKey = q.Get("client_key")
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error(), 0)
			return req, false
		}
	}
	if strings.TrimSpace(req.text()) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text is required", 0)
		return req, false
	}
	if req.ClientKey == "" {
		req.ClientKey = clientKeyFromHeader(r)
	}
	return req, true
}

func clientKeyFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Client-Key"))
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	body := toErrorBody(err)
	status := statusFor(body.Code)
	if body.RetryAfterMs > 0 {
		seconds := (body.RetryAfterMs + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	writeError(w, status, body.Code, body.Message, body.RetryAfterMs)
}

func toErrorBody(err error) *errorBody {
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		return &errorBody{
			Code:         string(perr.Code),
			Message:      perr.Message,
			RetryAfterMs: perr.RetryAfter.Milliseconds(),
		}
	}
	return &errorBody{Code: string(pipeline.CodeInternal), Message: err.Error()}
}

func statusFor(code string) int {
	switch pipeline.Code(code) {
	case pipeline.CodeRateLimited:
		return http.StatusTooManyRequests
	case pipeline.CodeParse:
		return http.StatusBadRequest
	case pipeline.CodeDelegate:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryAfterMs int64) {
	writeJSON(w, status, map[string]*errorBody{"error": {
		Code:         code,
		Message:      message,
		RetryAfterMs: retryAfterMs,
	}})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// chunkText splits text into pieces of at most size bytes, preferring word
// boundaries.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexByte(text[:size], ' '); idx > 0 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	chunks = append(chunks, text)
	return chunks
}
