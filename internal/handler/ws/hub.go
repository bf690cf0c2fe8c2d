// Package ws serves the realtime WebSocket API: live snapshots of
// conversations, messages and statuses, in-app alerts, and the ephemeral
// typing, viewing and receipt signals.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/pkg/constants"
	appCtx "marketchat-backend/pkg/context"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// ConversationService streams a user's conversation list
type ConversationService interface {
	ListenToConversations(ctx context.Context, userID uuid.UUID, callback func([]*domain.Conversation)) (*realtime.Subscription, error)
}

// ChatService streams messages and accepts the signals sent over the socket
type ChatService interface {
	ListenToMessages(ctx context.Context, conversationID, userID uuid.UUID, callback func([]domain.Message)) (*realtime.Subscription, error)
	SetTypingStatus(ctx context.Context, conversationID, userID uuid.UUID, isTyping bool) error
	UpdateMessageStatus(ctx context.Context, conversationID, userID uuid.UUID, status domain.MessageStatus) (int, error)
}

// StatusService streams the live status list
type StatusService interface {
	ListenToStatuses(ctx context.Context, callback func([]domain.UserStatus)) (*realtime.Subscription, error)
}

// NotificationService raises alerts and tracks what the user has open
type NotificationService interface {
	Watch(ctx context.Context, userID uuid.UUID, sink func(domain.Alert)) (*realtime.Subscription, error)
	SetViewing(ctx context.Context, userID, conversationID uuid.UUID) error
	SetPresence(ctx context.Context, userID uuid.UUID, online bool) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Config limits the hub
type Config struct {
	MaxConnections int
	AllowedOrigins []string
}

// Hub owns every WebSocket connection of this instance
type Hub struct {
	conversations ConversationService
	chat          ChatService
	statuses      StatusService
	notifications NotificationService
	metrics       *metrics.Metrics

	upgrader  websocket.Upgrader
	semaphore chan struct{}

	mu        sync.Mutex
	userConns map[uuid.UUID]int
}

// NewHub creates a new hub
func NewHub(
	conversations ConversationService,
	chat ChatService,
	statuses StatusService,
	notifications NotificationService,
	m *metrics.Metrics,
	cfg Config,
) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10000
	}
	origins := cfg.AllowedOrigins
	return &Hub{
		conversations: conversations,
		chat:          chat,
		statuses:      statuses,
		notifications: notifications,
		metrics:       m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Native clients send no Origin
				return origin == "" || middleware.OriginAllowed(origins, origin)
			},
		},
		semaphore: make(chan struct{}, cfg.MaxConnections),
		userConns: make(map[uuid.UUID]int),
	}
}

// ServeWS upgrades the request and serves the connection until it closes
// GET /v1/ws
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() { <-h.semaphore }()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", cap(h.semaphore)))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		h.recordError("upgrade")
		return
	}

	// The socket outlives the request context
	ctx, cancel := context.WithCancel(logger.WithRequestID(context.Background(), logger.RequestIDFromContext(c.Request.Context())))
	client := newClient(h, conn, userID, ctx, cancel)

	h.connected(client)
	defer h.disconnected(client)

	go client.writePump()
	client.start()
	client.readPump()
}

func (h *Hub) connected(client *Client) {
	if h.metrics != nil {
		h.metrics.WebSocketOpened()
	}

	h.mu.Lock()
	h.userConns[client.userID]++
	first := h.userConns[client.userID] == 1
	h.mu.Unlock()

	if first {
		ctx, cancel := appCtx.WithShortTimeout(client.ctx)
		defer cancel()
		if err := h.notifications.SetPresence(ctx, client.userID, true); err != nil {
			logger.FromContext(ctx).Debug("Failed to mark user online", zap.Error(err))
		}
	}
}

func (h *Hub) disconnected(client *Client) {
	client.close()
	if h.metrics != nil {
		h.metrics.WebSocketClosed()
	}

	h.mu.Lock()
	h.userConns[client.userID]--
	last := h.userConns[client.userID] <= 0
	if last {
		delete(h.userConns, client.userID)
	}
	h.mu.Unlock()

	if last {
		ctx, cancel := appCtx.WithShortTimeout(context.WithoutCancel(client.ctx))
		defer cancel()
		if err := h.notifications.SetPresence(ctx, client.userID, false); err != nil {
			logger.FromContext(ctx).Debug("Failed to mark user offline", zap.Error(err))
		}
		if err := h.notifications.SetViewing(ctx, client.userID, uuid.Nil); err != nil {
			logger.FromContext(ctx).Debug("Failed to clear viewing marker", zap.Error(err))
		}
	}
}

// ConnectionCount returns the number of open connections for a user
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userConns[userID]
}

func (h *Hub) recordFrame(frameType, direction string) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(frameType, direction)
	}
}

func (h *Hub) recordError(reason string) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketError(reason)
	}
}

// sendBuffer is the per-connection outbound queue
const sendBuffer = constants.WebSocketSendBuffer
