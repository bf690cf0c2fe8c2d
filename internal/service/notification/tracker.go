package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/pkg/constants"
	"marketchat-backend/pkg/metrics"
)

// Tracker turns successive conversation-list snapshots into alerts for one
// user. It remembers the last message time seen per conversation; the first
// snapshot only records those baselines. A Tracker belongs to a single
// subscription and is not safe for concurrent use.
type Tracker struct {
	userID   uuid.UUID
	seen     map[uuid.UUID]time.Time
	baseline bool
}

// NewTracker creates a tracker for userID
func NewTracker(userID uuid.UUID) *Tracker {
	return &Tracker{
		userID: userID,
		seen:   make(map[uuid.UUID]time.Time),
	}
}

// Observe records a snapshot and returns alerts for conversations whose
// last message moved forward, was sent by someone else, and is not the one
// the user is currently viewing (uuid.Nil when none).
func (t *Tracker) Observe(conversations []*domain.Conversation, viewing uuid.UUID, now time.Time) []domain.Alert {
	var alerts []domain.Alert
	for _, conv := range conversations {
		if conv.LastMessageTime == nil {
			continue
		}
		current := *conv.LastMessageTime
		previous := t.seen[conv.ConversationID]
		t.seen[conv.ConversationID] = current

		if !t.baseline || !current.After(previous) {
			continue
		}
		if conv.LastMessageSenderID == nil || *conv.LastMessageSenderID == t.userID {
			metrics.NotificationSuppressedTotal.WithLabelValues("own_message").Inc()
			continue
		}
		if conv.ConversationID == viewing {
			metrics.NotificationSuppressedTotal.WithLabelValues("viewing").Inc()
			continue
		}

		alert := BuildAlert(conv, now)
		kind := "direct"
		if conv.IsGroup {
			kind = "group"
		}
		metrics.NotificationAlertTotal.WithLabelValues(kind).Inc()
		alerts = append(alerts, alert)
	}
	t.baseline = true
	return alerts
}

// BuildAlert renders the alert for a conversation's latest message
func BuildAlert(conv *domain.Conversation, now time.Time) domain.Alert {
	name := ""
	photo := ""
	if conv.LastMessageSenderID != nil {
		name = conv.ParticipantNames[*conv.LastMessageSenderID]
		photo = conv.ParticipantPhotos[*conv.LastMessageSenderID]
	}
	if name == "" {
		name = constants.UnknownSenderName
	}

	title := name
	if conv.IsGroup {
		title = fmt.Sprintf("%s @ %s", name, conv.GroupName)
		if conv.GroupImage != "" {
			photo = conv.GroupImage
		}
	}

	return domain.Alert{
		ConversationID: conv.ConversationID,
		Title:          title,
		Body:           domain.SummaryText(conv.LastMessageType, conv.LastMessage),
		Photo:          photo,
		Sound:          constants.NotificationSound,
		IsGroup:        conv.IsGroup,
		At:             now.UTC(),
	}
}
