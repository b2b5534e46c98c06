package httpadapter

import (
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/PabloGalante/parrot-api/internal/app/conversation"
	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

type Options struct {
	Metrics     *observability.Metrics // optional; /metrics is only served when set
	CORSOrigins []string
}

type Server struct {
	svc     *conversation.Service
	metrics *observability.Metrics
}

func NewServer(svc *conversation.Service, opts Options) http.Handler {
	s := &Server{svc: svc, metrics: opts.Metrics}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /api/process-prompt", s.handleProcessPrompt)
	mux.HandleFunc("POST /api/stream-prompt", s.handleStreamPrompt)
	mux.HandleFunc("GET /api/threads/{thread_id}", s.handleGetThread)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	// Applied inside out: request id first, CORS closest to the mux.
	return chainMiddlewares(mux,
		withCORS(opts.CORSOrigins),
		withLogging(opts.Metrics),
		withRequestID,
	)
}

// DTOs

type promptRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id"`
}

type promptResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type threadResponse struct {
	ThreadID string            `json:"thread_id"`
	Messages []messageResponse `json:"messages"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleProcessPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := s.svc.ProcessPrompt(r.Context(), conversation.PromptInput{
		ThreadID: domain.ThreadID(req.ThreadID),
		Prompt:   req.Prompt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, promptResponse{
		Response: out.AIMessage.Content,
		Status:   "success",
	})
}

func (s *Server) handleStreamPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	seq, err := s.svc.StreamPrompt(r.Context(), conversation.PromptInput{
		ThreadID: domain.ThreadID(req.ThreadID),
		Prompt:   req.Prompt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	next, stop := iter.Pull2(seq)
	defer stop()

	// Pull the first fragment before committing to a 200 so that early
	// failures still get a JSON error.
	text, err, ok := next()
	if ok && err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	log := observability.LoggerFromContext(r.Context())

	for ok {
		if err != nil {
			log.Error().Err(err).Msg("stream failed after start")
			_ = writeEvent(w, "error", err.Error())
			_ = rc.Flush()
			return
		}
		if werr := writeEvent(w, "", text); werr != nil {
			log.Info().Err(werr).Msg("client went away")
			return
		}
		_ = rc.Flush()
		text, err, ok = next()
	}
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("thread_id")

	msgs, err := s.svc.GetThread(r.Context(), domain.ThreadID(id))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := threadResponse{
		ThreadID: id,
		Messages: make([]messageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// HTTP helpers

// statusFor maps error kinds to HTTP status codes. Model invocation
// failures and everything unrecognized are 500s.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Detail: msg})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}
