package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/notification"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // access is gated by the bearer token
	},
}

// NotificationHandler streams batch lifecycle events over websocket.
type NotificationHandler struct {
	hub    *notification.Hub
	logger logger.Logger
}

func NewNotificationHandler(hub *notification.Hub, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{hub: hub, logger: log}
}

// cooperativeConn only forwards events for one cooperative.
type cooperativeConn struct {
	conn        notification.Conn
	cooperative string
}

func (c *cooperativeConn) WriteJSON(v interface{}) error {
	if e, ok := v.(notification.Event); ok && !strings.EqualFold(e.CooperativeName, c.cooperative) {
		return nil
	}
	return c.conn.WriteJSON(v)
}

func (c *cooperativeConn) Close() error {
	return c.conn.Close()
}

// subscriberConn scopes conn to what actor may see. Admins receive every event.
func subscriberConn(actor *domain.Account, conn notification.Conn) notification.Conn {
	if actor.Role == domain.RolePlatformAdmin {
		return conn
	}
	return &cooperativeConn{conn: conn, cooperative: actor.CooperativeName}
}

// Stream upgrades the request and relays hub events until the client leaves.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	h.logger.Info("WebSocket client connected", map[string]interface{}{
		"account_id": actor.ID.String(),
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.hub.Subscribe(ctx, subscriberConn(actor, conn))
}
