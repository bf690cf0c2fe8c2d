// Package realtime turns store writes into live snapshots: writers publish a
// change event on a topic, watchers re-run their query and push the full
// result to the subscriber.
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// Event is a change notification. It carries no payload; subscribers
// re-query the store.
type Event struct {
	Topic string    `json:"topic"`
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
}

// Event kinds
const (
	KindMessage      = "message"
	KindMessageState = "message_state"
	KindConversation = "conversation"
	KindTyping       = "typing"
	KindStatus       = "status"
)

// Broker fans change events out to subscribers
type Broker interface {
	Publish(ctx context.Context, topic string, ev Event) error
	// Subscribe returns a channel of events for topics and a function that
	// releases the subscription. The channel is closed after release.
	Subscribe(ctx context.Context, topics ...string) (<-chan Event, func(), error)
}

// StatusesTopic carries changes to the system-wide status list
const StatusesTopic = "rt:statuses"

// ConversationMessagesTopic carries changes to one conversation's messages
func ConversationMessagesTopic(conversationID uuid.UUID) string {
	return fmt.Sprintf("rt:conversation:%s:messages", conversationID)
}

// UserConversationsTopic carries changes to any conversation a user belongs to
func UserConversationsTopic(userID uuid.UUID) string {
	return fmt.Sprintf("rt:user:%s:conversations", userID)
}

// NewEvent builds an event stamped with the current time
func NewEvent(topic, kind string) Event {
	return Event{Topic: topic, Kind: kind, At: time.Now().UTC()}
}

// Notify publishes one event of kind on every topic. The write that caused
// it has already committed, so failures are counted and logged, not returned.
func Notify(ctx context.Context, broker Broker, kind string, topics ...string) {
	for _, topic := range topics {
		if err := broker.Publish(ctx, topic, NewEvent(topic, kind)); err != nil {
			metrics.RealtimePublishErrorsTotal.Inc()
			logger.FromContext(ctx).Warn("Failed to publish change event",
				zap.String("topic", topic),
				zap.String("kind", kind),
				zap.Error(err))
		}
	}
}

// UserTopics maps user ids to their conversation-list topics
func UserTopics(userIDs []uuid.UUID) []string {
	topics := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		topics = append(topics, UserConversationsTopic(id))
	}
	return topics
}

const subscriberBuffer = 16

// offer delivers ev without blocking. A full buffer already holds a pending
// event, which will trigger the same re-query, so dropping is safe.
func offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}
