package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/logging"
)

const (
	streamMaxReadBytes = 4096
	streamPingInterval = 15 * time.Second
	streamPongWait     = 45 * time.Second
	streamWriteWait    = 10 * time.Second
)

// Stream frame types.
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameError   = "error"
)

// StreamFrame is one server-to-client websocket frame.
type StreamFrame struct {
	Type     string                 `json:"type"`
	Messages []conversation.Message `json:"messages,omitempty"`
	Message  *conversation.Message  `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// streamHandler upgrades GET /v1/conversations/{id}/stream and pushes the
// committed history followed by every new message of the conversation.
type streamHandler struct {
	store    conversation.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newStreamHandler(store conversation.Store, logger *slog.Logger) *streamHandler {
	return &streamHandler{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, conversation.ErrMissingConversation.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("websocket upgrade failed", logging.Err(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := logging.WithConversation(h.logger, conversationID)

	// Subscribe before loading history so nothing committed in between is lost.
	sub, err := h.store.Subscribe(ctx, conversationID)
	if err != nil {
		_ = h.writeFrame(conn, StreamFrame{Type: FrameError, Error: err.Error()})
		return
	}
	defer sub.Close()

	history, err := h.store.LoadHistory(ctx, conversationID)
	if err != nil {
		_ = h.writeFrame(conn, StreamFrame{Type: FrameError, Error: err.Error()})
		return
	}
	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
	}
	if history == nil {
		history = []conversation.Message{}
	}
	if err := h.writeFrame(conn, StreamFrame{Type: FrameHistory, Messages: history}); err != nil {
		return
	}

	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				h.writeClose(conn, "conversation store closed")
				return
			}
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			if err := h.writeFrame(conn, StreamFrame{Type: FrameMessage, Message: &msg}); err != nil {
				logger.Debug("stream write failed", logging.Err(err))
				return
			}
		}
	}
}

// readLoop drains client frames to process pongs and close; it cancels the
// stream when the connection goes away.
func (h *streamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(streamMaxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *streamHandler) writeFrame(conn *websocket.Conn, frame StreamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *streamHandler) writeClose(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
