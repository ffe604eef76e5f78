package websocket

import (
	"net/http"
	"strings"

	"collab-app/internal/auth"
	"collab-app/internal/config"
	"collab-app/internal/room"
	"collab-app/pkg/logger"

	"github.com/gorilla/websocket"
)

// Handler accepts websocket connections. The URL path segment after /ws
// addresses the room; its absence falls back to the tenant's shared room.
type Handler struct {
	authService *auth.Service
	rooms       *room.Manager
	cfg         config.ServerConfig
	defaultRoom string
	upgrader    websocket.Upgrader
}

func NewHandler(authService *auth.Service, rooms *room.Manager, cfg config.ServerConfig, defaultRoom string) *Handler {
	return &Handler{
		authService: authService,
		rooms:       rooms,
		cfg:         cfg,
		defaultRoom: defaultRoom,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The identity provider's token travels as a query parameter because
	// browsers cannot set headers on websocket dials.
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := h.authService.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := h.roomIDFromPath(r.URL.Path)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("upgrade: %v", err)
		return
	}

	session := NewSession(conn, *identity, h.cfg.PingInterval, h.cfg.WriteTimeout, h.cfg.SendQueueSize)
	session.Attach(h.rooms, roomID)

	logger.Debug("session %s: user %s connected to room %s", session.SessionID(), identity.UserID, roomID)

	go session.WritePump()
	go session.ReadPump()
}

func (h *Handler) roomIDFromPath(path string) string {
	roomID := strings.Trim(strings.TrimPrefix(path, "/ws"), "/")
	if roomID == "" {
		return h.defaultRoom
	}
	return roomID
}
