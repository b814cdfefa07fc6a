package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// maxRequestBody bounds a message request body.
const maxRequestBody = 1 << 20

// MessageRequest is the body of POST /v1/conversations/{id}/messages.
type MessageRequest struct {
	Text           string         `json:"text"`
	Action         string         `json:"action,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	AttachmentRefs []string       `json:"attachmentRefs,omitempty"`
}

// HistoryResponse is the body of GET /v1/conversations/{id}/messages.
type HistoryResponse struct {
	Messages []conversation.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves the conversation endpoints.
type API struct {
	sc     *ServerContext
	logger *slog.Logger
	stream *streamHandler
}

// NewAPI creates the HTTP API on top of sc.
func NewAPI(sc *ServerContext) *API {
	logger := logging.WithOperation(sc.Logger(), "http")
	return &API{
		sc:     sc,
		logger: logger,
		stream: newStreamHandler(sc.Store(), logger),
	}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/conversations/{id}/messages", a.instrument(http.HandlerFunc(a.postMessage)))
	mux.Handle("GET /v1/conversations/{id}/messages", a.instrument(http.HandlerFunc(a.getHistory)))
	mux.Handle("GET /v1/conversations/{id}/stream", a.instrument(a.stream))
}

// Handler returns a mux with the API and health routes.
func (a *API) Handler(health *HealthChecker) http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	if health != nil {
		health.RegisterHealthEndpoints(mux)
	}
	return mux
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var body MessageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" && body.Action == "" {
		writeError(w, http.StatusBadRequest, "text or action is required")
		return
	}

	cred, err := a.sc.Credential(r.Context(), r.Header, "")
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	reply, err := a.sc.Assistant().Handle(r.Context(), assistant.Request{
		ConversationID: conversationID,
		Text:           body.Text,
		Action:         actions.Action(strings.ToLower(strings.TrimSpace(body.Action))),
		Fields:         body.Fields,
		AttachmentRefs: body.AttachmentRefs,
		Credential:     cred,
	})
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("message request failed",
				logging.Conversation(conversationID),
				logging.Err(err))
		}
		// The user message may already be committed; return what exists.
		if reply.User.ID != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(reply)
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	history, err := a.sc.Store().LoadHistory(r.Context(), conversationID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if history == nil {
		history = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: history})
}

// instrument records request metrics by route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.sc.Metrics().RecordHTTPRequest(r.Context(), r.Method, r.Pattern, rec.status, time.Since(start))
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrMissingConversation):
		return http.StatusBadRequest
	case conversation.IsUnavailable(err), errors.Is(err, conversation.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoCredential):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
