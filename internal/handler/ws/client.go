package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/pkg/constants"
	appCtx "marketchat-backend/pkg/context"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
)

// Client → server frame types
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameTyping      = "typing"
	FrameViewing     = "viewing"
	FrameRead        = "read"
	FrameDelivered   = "delivered"
)

// Server → client frame types. Snapshot frames reuse the channel names.
const (
	ChannelMessages      = "messages"
	ChannelConversations = "conversations"
	ChannelStatuses      = "statuses"
	FrameNotification    = "notification"
	FrameError           = "error"
)

// InboundFrame is a frame sent by the client
type InboundFrame struct {
	Type           string `json:"type"`
	Channel        string `json:"channel,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}

// OutboundFrame is a frame sent to the client
type OutboundFrame struct {
	Type           string      `json:"type"`
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Code           string      `json:"code,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// Client is one WebSocket connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	subscriptions map[string]*realtime.Subscription
	closed        bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, ctx context.Context, cancel context.CancelFunc) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		userID:        userID,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]*realtime.Subscription),
	}
}

// start attaches the per-connection notification watcher
func (c *Client) start() {
	sub, err := c.hub.notifications.Watch(c.ctx, c.userID, func(alert domain.Alert) {
		id := alert.ConversationID
		c.enqueue(OutboundFrame{Type: FrameNotification, ConversationID: &id, Data: alert})
	})
	if err != nil {
		logger.FromContext(c.ctx).Warn("Failed to start notification watcher",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
		c.sendError(err)
		return
	}
	c.track("notifications", sub)
}

// readPump reads frames until the connection fails or the client goes away
func (c *Client) readPump() {
	c.conn.SetReadLimit(constants.WebSocketMaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		ctx, cancel := appCtx.WithShortTimeout(c.ctx)
		defer cancel()
		if err := c.hub.notifications.RefreshPresence(ctx, c.userID); err != nil {
			logger.FromContext(ctx).Debug("Presence heartbeat failed", zap.Error(err))
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.FromContext(c.ctx).Debug("WebSocket read error", zap.Error(err))
				c.hub.recordError("read")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(appErrors.ValidationError("Invalid frame"))
			continue
		}
		c.hub.recordFrame(frame.Type, "in")
		c.handle(frame)
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) handle(frame InboundFrame) {
	switch frame.Type {
	case FrameSubscribe:
		c.subscribe(frame)
	case FrameUnsubscribe:
		key, ok := c.subscriptionKey(frame)
		if ok {
			c.untrack(key)
		}
	case FrameTyping:
		convID, ok := c.conversationID(frame, true)
		if !ok {
			return
		}
		c.do(func(ctx context.Context) error {
			return c.hub.chat.SetTypingStatus(ctx, convID, c.userID, frame.IsTyping)
		})
	case FrameViewing:
		convID, ok := c.conversationID(frame, false)
		if !ok {
			return
		}
		c.do(func(ctx context.Context) error {
			return c.hub.notifications.SetViewing(ctx, c.userID, convID)
		})
	case FrameRead, FrameDelivered:
		convID, ok := c.conversationID(frame, true)
		if !ok {
			return
		}
		status := domain.MessageStatus(frame.Type)
		c.do(func(ctx context.Context) error {
			_, err := c.hub.chat.UpdateMessageStatus(ctx, convID, c.userID, status)
			return err
		})
	default:
		c.sendError(appErrors.ValidationError("Unknown frame type: " + frame.Type))
	}
}

func (c *Client) subscribe(frame InboundFrame) {
	key, ok := c.subscriptionKey(frame)
	if !ok {
		return
	}
	// Replace rather than stack a second live query
	c.untrack(key)

	var (
		sub *realtime.Subscription
		err error
	)
	switch frame.Channel {
	case ChannelMessages:
		convID, _ := uuid.Parse(frame.ConversationID)
		sub, err = c.hub.chat.ListenToMessages(c.ctx, convID, c.userID, func(messages []domain.Message) {
			id := convID
			c.enqueue(OutboundFrame{Type: ChannelMessages, ConversationID: &id, Data: messages})
		})
	case ChannelConversations:
		sub, err = c.hub.conversations.ListenToConversations(c.ctx, c.userID, func(conversations []*domain.Conversation) {
			c.enqueue(OutboundFrame{Type: ChannelConversations, Data: conversations})
		})
	case ChannelStatuses:
		sub, err = c.hub.statuses.ListenToStatuses(c.ctx, func(statuses []domain.UserStatus) {
			c.enqueue(OutboundFrame{Type: ChannelStatuses, Data: statuses})
		})
	}
	if err != nil {
		c.sendError(err)
		return
	}
	c.track(key, sub)
}

func (c *Client) subscriptionKey(frame InboundFrame) (string, bool) {
	switch frame.Channel {
	case ChannelConversations, ChannelStatuses:
		return frame.Channel, true
	case ChannelMessages:
		convID, ok := c.conversationID(frame, true)
		if !ok {
			return "", false
		}
		return ChannelMessages + ":" + convID.String(), true
	default:
		c.sendError(appErrors.ValidationError("Unknown channel: " + frame.Channel))
		return "", false
	}
}

// conversationID parses the frame's conversation. An empty id is uuid.Nil
// unless required.
func (c *Client) conversationID(frame InboundFrame, required bool) (uuid.UUID, bool) {
	if frame.ConversationID == "" && !required {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(frame.ConversationID)
	if err != nil {
		c.sendError(appErrors.ValidationError("Invalid conversation_id"))
		return uuid.Nil, false
	}
	return id, true
}

func (c *Client) do(fn func(ctx context.Context) error) {
	ctx, cancel := appCtx.WithMediumTimeout(c.ctx)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.sendError(err)
	}
}

func (c *Client) track(key string, sub *realtime.Subscription) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.subscriptions[key] = sub
	c.mu.Unlock()
}

func (c *Client) untrack(key string) {
	c.mu.Lock()
	sub := c.subscriptions[key]
	delete(c.subscriptions, key)
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// close releases every subscription. Safe to call more than once.
func (c *Client) close() {
	c.cancel()

	c.mu.Lock()
	c.closed = true
	subs := c.subscriptions
	c.subscriptions = make(map[string]*realtime.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// enqueue never blocks. A client that cannot keep up is disconnected; it
// receives full snapshots again after reconnecting.
func (c *Client) enqueue(frame OutboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.FromContext(c.ctx).Error("Failed to encode frame", zap.String("type", frame.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
		c.hub.recordFrame(frame.Type, "out")
	case <-c.ctx.Done():
	default:
		logger.FromContext(c.ctx).Warn("Disconnecting slow WebSocket client",
			zap.String("user_id", c.userID.String()))
		c.hub.recordError("slow_consumer")
		c.cancel()
	}
}

func (c *Client) sendError(err error) {
	appErr := appErrors.GetAppError(err)
	c.enqueue(OutboundFrame{Type: FrameError, Code: string(appErr.Code), Message: appErr.Message})
}
