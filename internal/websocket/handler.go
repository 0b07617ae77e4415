package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-hub/internal/hub"
	"chat-hub/internal/models"
	"chat-hub/pkg/logger"
)

// Hub is the part of the dispatcher the transport drives.
type Hub interface {
	Connect(ctx context.Context, id hub.ConnID, identity models.Identity, sink hub.Sink) error
	Disconnect(ctx context.Context, id hub.ConnID) error
	Dispatch(ctx context.Context, id hub.ConnID, raw []byte)
}

// IdentityResolver authenticates the upgrade request.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (models.Identity, error)
}

type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      float64
	RateBurst      int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	return o
}

type Handler struct {
	hub      Hub
	resolver IdentityResolver
	opts     Options
	upgrader websocket.Upgrader
	// base outlives the upgrade request; pumps run on it.
	base context.Context
}

func NewHandler(base context.Context, h Hub, resolver IdentityResolver, opts Options) *Handler {
	opts = opts.withDefaults()
	origins := newOriginChecker(opts.AllowedOrigins)
	return &Handler{
		hub:      h,
		resolver: resolver,
		opts:     opts,
		base:     base,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.ResolveIdentity(r)
	if err != nil {
		logger.Debug("WebSocket authentication failed: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	id := hub.ConnID(uuid.NewString())
	client := NewClient(id, identity.UserID, conn, h.hub, h.opts)

	if err := h.hub.Connect(r.Context(), id, identity, client); err != nil {
		reason := "internal error"
		if errors.Is(err, hub.ErrClosed) {
			reason = "server shutting down"
		}
		logger.Error("Error connecting user %d: %v", identity.UserID, err)
		client.Close()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logger.Info("User %s connected as %s", identity.Username, id)

	go client.WritePump()
	go client.ReadPump(h.base)
}
