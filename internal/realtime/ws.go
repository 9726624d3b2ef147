package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
	"studio-schedule/pkg/sl"
)

const maxMessageSize = 1024

type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// SessionViewer decides whether a connection may follow a session's room.
type SessionViewer interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.Session, error)
}

type Options struct {
	AllowedOrigins []string
	WriteWait      time.Duration
	PongWait       time.Duration
}

// Handler upgrades authenticated requests to websockets and binds each socket to a
// registry connection for its lifetime.
type Handler struct {
	log      *slog.Logger
	registry *Registry
	authn    Authenticator
	viewer   SessionViewer
	upgrader websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewHandler(log *slog.Logger, registry *Registry, authn Authenticator, viewer SessionViewer, opts Options) *Handler {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}

	h := &Handler{
		log:        log.With(slog.String("component", "ws")),
		registry:   registry,
		authn:      authn,
		viewer:     viewer,
		writeWait:  opts.WriteWait,
		pongWait:   opts.PongWait,
		pingPeriod: opts.PongWait * 9 / 10,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

type inbound struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
}

type outbound struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	id, err := h.authn.Authenticate(token)
	if err != nil {
		h.log.Info("websocket rejected", sl.Err(err))
		status, body := response.FromError(err, "authentication failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}

	client := h.registry.Connect(id.UserID, id.Role)
	replies := make(chan outbound, 8)

	go h.writePump(conn, client, replies)
	h.readPump(r.Context(), conn, client, id.Actor(), replies)
}

// readPump owns the read side and tears the connection down when the socket closes.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *Client, actor models.Actor, replies chan<- outbound) {
	defer func() {
		h.registry.Disconnect(client.ID)
		close(replies)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", slog.String("connection_id", client.ID), sl.Err(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(replies, outbound{Type: "error", Error: "malformed message"})
			continue
		}

		h.reply(replies, h.handle(ctx, client, actor, msg))
	}
}

func (h *Handler) handle(ctx context.Context, client *Client, actor models.Actor, msg inbound) outbound {
	ack := outbound{Type: "ack", Action: msg.Action, SessionID: msg.SessionID}

	switch msg.Action {
	case "ping":
		return outbound{Type: "pong"}
	case "join_session", "leave_session":
	default:
		return outbound{Type: "error", Action: msg.Action, Error: "unknown action"}
	}

	if msg.SessionID == "" {
		return outbound{Type: "error", Action: msg.Action, Error: "session_id is required"}
	}

	room := models.SessionRoom(msg.SessionID)

	if msg.Action == "leave_session" {
		if err := h.registry.LeaveRoom(client.ID, room); err != nil {
			return outbound{Type: "error", Action: msg.Action, Error: "connection closed"}
		}
		return ack
	}

	if h.viewer != nil {
		if _, err := h.viewer.Get(ctx, actor, msg.SessionID); err != nil {
			_, body := response.FromError(err, "cannot follow session")
			return outbound{Type: "error", Action: msg.Action, SessionID: msg.SessionID, Error: body.Code}
		}
	}

	if err := h.registry.JoinRoom(client.ID, room); err != nil {
		return outbound{Type: "error", Action: msg.Action, Error: "connection closed"}
	}

	return ack
}

func (h *Handler) reply(replies chan<- outbound, msg outbound) {
	select {
	case replies <- msg:
	default:
		h.log.Debug("reply dropped", slog.String("type", msg.Type))
	}
}

// writePump is the only writer on conn. It stops when the registry closes the client's
// send channel or a write fails.
func (h *Handler) writePump(conn *websocket.Conn, client *Client, replies <-chan outbound) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case msg, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
