package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/PabloGalante/parrot-api/internal/adapters/http"
	"github.com/PabloGalante/parrot-api/internal/adapters/llm"
	"github.com/PabloGalante/parrot-api/internal/adapters/storage/memory"
	"github.com/PabloGalante/parrot-api/internal/app/conversation"
	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

// chunkLLM streams a fixed list of chunks, optionally failing after them.
type chunkLLM struct {
	chunks []string
	err    error
}

func (c *chunkLLM) Generate(context.Context, domain.Prompt) (*domain.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Message{Role: domain.RoleAI, Content: strings.Join(c.chunks, "")}, nil
}

func (c *chunkLLM) Stream(context.Context, domain.Prompt) iter.Seq2[domain.Chunk, error] {
	return func(yield func(domain.Chunk, error) bool) {
		for _, t := range c.chunks {
			if !yield(domain.Chunk{Kind: domain.ChunkAI, Text: t}, nil) {
				return
			}
		}
		if c.err != nil {
			yield(domain.Chunk{}, c.err)
		}
	}
}

func newTestServer(t *testing.T, client domain.LLMClient) http.Handler {
	t.Helper()

	if client == nil {
		client = llm.NewMockLLM()
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := conversation.NewService(client, &llm.TiktokenCounter{}, memory.NewThreadStore(), conversation.Settings{
		MaxTokens:    1000,
		SystemPrompt: "You are a sarcastic parrot.",
		Metrics:      metrics,
	})

	return httpadapter.NewServer(svc, httpadapter.Options{
		Metrics:     metrics,
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func post(t *testing.T, srv http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return v
}

// sseLines splits a body on CRLF, LF and CR, the line terminators an
// EventSource client honors.
func sseLines(body string) []string {
	var lines []string
	for len(body) > 0 {
		i := strings.IndexAny(body, "\r\n")
		if i < 0 {
			lines = append(lines, body)
			break
		}
		lines = append(lines, body[:i])
		if strings.HasPrefix(body[i:], "\r\n") {
			body = body[i+2:]
		} else {
			body = body[i+1:]
		}
	}
	return lines
}

// sseData parses the body the way a browser EventSource does and returns
// the data and event name of every dispatched event.
func sseData(t *testing.T, body string) (data []string, events []string) {
	t.Helper()
	var (
		buf   strings.Builder
		event string
	)
	for _, line := range sseLines(body) {
		if line == "" {
			if buf.Len() > 0 {
				data = append(data, strings.TrimSuffix(buf.String(), "\n"))
				events = append(events, event)
			}
			buf.Reset()
			event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			buf.WriteString(value)
			buf.WriteByte('\n')
		case "event":
			event = value
		}
	}
	return data, events
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w); got["status"] != "healthy" {
		t.Fatalf("unexpected body %v", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestProcessPromptSuccess(t *testing.T) {
	srv := newTestServer(t, nil)
	w := post(t, srv, "/api/process-prompt", `{"prompt":"Tell me a joke","thread_id":"t1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[map[string]string](t, w)
	if got["status"] != "success" || got["response"] == "" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestMissingThreadIDIsRejected(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api/process-prompt", "/api/stream-prompt"} {
		for _, body := range []string{`{"prompt":"hi"}`, `{"prompt":"hi","thread_id":""}`} {
			w := post(t, srv, path, body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("%s %s: expected 400, got %d", path, body, w.Code)
			}
			if got := decode[map[string]string](t, w); got["detail"] != "thread_id is required" {
				t.Fatalf("%s: unexpected detail %q", path, got["detail"])
			}
		}
	}
}

func TestBlankButNonEmptyFieldsAreAccepted(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, body := range []string{
		`{"prompt":"Tell me a joke","thread_id":" "}`,
		`{"prompt":"   ","thread_id":"t1"}`,
	} {
		for _, path := range []string{"/api/process-prompt", "/api/stream-prompt"} {
			if w := post(t, srv, path, body); w.Code != http.StatusOK {
				t.Fatalf("%s %s: expected 200, got %d: %s", path, body, w.Code, w.Body.String())
			}
		}
	}
}

func TestInvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	w := post(t, srv, "/api/process-prompt", `{"prompt":`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w); got["detail"] != "invalid JSON body" {
		t.Fatalf("unexpected detail %q", got["detail"])
	}
}

func TestJokeConversation(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, prompt := range []string{"Tell me a joke", "Explain that joke"} {
		w := post(t, srv, "/api/process-prompt", `{"prompt":"`+prompt+`","thread_id":"joke"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", prompt, w.Code)
		}
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/joke", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got struct {
		ThreadID string `json:"thread_id"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.ThreadID != "joke" || len(got.Messages) != 4 {
		t.Fatalf("unexpected thread %+v", got)
	}
	if got.Messages[2].Role != "human" || got.Messages[2].Content != "Explain that joke" {
		t.Fatalf("unexpected third message %+v", got.Messages[2])
	}
	if got.Messages[3].Role != "ai" {
		t.Fatalf("expected an ai reply last")
	}
}

func TestStreamMatchesProcess(t *testing.T) {
	srv := newTestServer(t, nil)

	blocking := decode[map[string]string](t, post(t, srv, "/api/process-prompt", `{"prompt":"Tell me a joke","thread_id":"a"}`))

	w := post(t, srv, "/api/stream-prompt", `{"prompt":"Tell me a joke","thread_id":"b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	data, events := sseData(t, w.Body.String())
	if len(data) < 2 {
		t.Fatalf("expected several events, got %d", len(data))
	}
	for _, e := range events {
		if e != "" {
			t.Fatalf("unexpected event %q", e)
		}
	}
	if strings.Join(data, "") != blocking["response"] {
		t.Fatalf("stream %q differs from %q", strings.Join(data, ""), blocking["response"])
	}
}

func TestStreamKeepsNewlines(t *testing.T) {
	srv := newTestServer(t, &chunkLLM{chunks: []string{"Squawk!\n", "Line two\nLine three"}})

	w := post(t, srv, "/api/stream-prompt", `{"prompt":"hi","thread_id":"t1"}`)
	data, _ := sseData(t, w.Body.String())

	if strings.Join(data, "") != "Squawk!\nLine two\nLine three" {
		t.Fatalf("newlines lost: %q", data)
	}
	if !strings.Contains(w.Body.String(), "data: Line two\ndata: Line three\n\n") {
		t.Fatalf("expected one data line per line, got %q", w.Body.String())
	}
}

func TestStreamCarriageReturnsSurvive(t *testing.T) {
	chunks := []string{"a\rb", " c\r\nd", "e\r"}
	srv := newTestServer(t, &chunkLLM{chunks: chunks})

	blocking := decode[map[string]string](t, post(t, srv, "/api/process-prompt", `{"prompt":"hi","thread_id":"a"}`))

	w := post(t, srv, "/api/stream-prompt", `{"prompt":"hi","thread_id":"b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, events := sseData(t, w.Body.String())
	if len(data) != len(chunks) {
		t.Fatalf("expected %d events, got %q", len(chunks), data)
	}
	for _, e := range events {
		if e != "" {
			t.Fatalf("unexpected event %q", e)
		}
	}

	// Every line break reaches the client, normalized to LF.
	want := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(blocking["response"])
	if got := strings.Join(data, ""); got != want {
		t.Fatalf("stream %q differs from %q", got, want)
	}
	if want != "a\nb c\nde\n" {
		t.Fatalf("unexpected blocking reply %q", blocking["response"])
	}
}

func TestStreamFailureBeforeFirstChunk(t *testing.T) {
	srv := newTestServer(t, &chunkLLM{err: errors.New("quota exceeded")})

	w := post(t, srv, "/api/stream-prompt", `{"prompt":"hi","thread_id":"t1"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w); !strings.Contains(got["detail"], "quota exceeded") {
		t.Fatalf("unexpected detail %q", got["detail"])
	}
}

func TestStreamFailureAfterStart(t *testing.T) {
	srv := newTestServer(t, &chunkLLM{chunks: []string{"Squawk"}, err: errors.New("connection reset")})

	w := post(t, srv, "/api/stream-prompt", `{"prompt":"hi","thread_id":"t1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, events := sseData(t, w.Body.String())
	if len(data) != 2 || data[0] != "Squawk" {
		t.Fatalf("unexpected events %q", data)
	}
	if events[1] != "error" || !strings.Contains(data[1], "connection reset") {
		t.Fatalf("expected a terminal error event, got %q %q", events[1], data[1])
	}

	// Nothing was stored for the failed stream.
	r := httptest.NewRecorder()
	srv.ServeHTTP(r, httptest.NewRequest(http.MethodGet, "/api/threads/t1", nil))
	if !bytes.Contains(r.Body.Bytes(), []byte(`"messages":[]`)) {
		t.Fatalf("expected an empty thread, got %s", r.Body.String())
	}
}

func TestModelFailureIs500(t *testing.T) {
	srv := newTestServer(t, &chunkLLM{err: errors.New("quota exceeded")})

	w := post(t, srv, "/api/process-prompt", `{"prompt":"hi","thread_id":"t1"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w); !strings.Contains(got["detail"], "quota exceeded") {
		t.Fatalf("unexpected detail %q", got["detail"])
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/process-prompt", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
		w.Header().Get("Access-Control-Allow-Credentials") != "true" ||
		w.Header().Get("Access-Control-Allow-Headers") != "content-type" {
		t.Fatalf("unexpected CORS headers %v", w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("origin outside the allow-list must not be allowed")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	post(t, srv, "/api/process-prompt", `{"prompt":"hi","thread_id":"t1"}`)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`parrot_http_requests_total{route="POST /api/process-prompt",status="200"} 1`,
		`parrot_model_invocations_total{mode="blocking",status="success"} 1`,
		`parrot_threads 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}
