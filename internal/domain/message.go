package domain

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// MessageType is the kind of content a message carries
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// SummaryText is what the conversation list shows for a message
func SummaryText(t MessageType, text string) string {
	if t == MessageTypeText || t == "" {
		return text
	}
	return fmt.Sprintf("Sent a %s", t)
}

// MessageStatus is the delivery state of a message.
// It only moves forward: sent -> delivered -> read.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses; unknown statuses rank 0
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether next is a permitted transition from s.
// delivered only applies to sent messages; read applies to anything not yet read.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	switch next {
	case MessageStatusDelivered:
		return s == MessageStatusSent
	case MessageStatusRead:
		return s != MessageStatusRead
	}
	return false
}

// ReplyTo is a snapshot of the quoted message taken at send time
type ReplyTo struct {
	MessageID  uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	SenderName string    `json:"sender_name"`
}

// Reaction is one user's emoji on a message
type Reaction struct {
	Emoji  string    `json:"emoji"`
	UserID uuid.UUID `json:"user_id"`
}

// Message represents a chat message.
// Maps to Cassandra messages table; MessageID is a time-based UUID.
type Message struct {
	MessageID      uuid.UUID     `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID     `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id" cql:"sender_id"`
	SenderName     string        `json:"sender_name" cql:"sender_name"`
	Text           string        `json:"text" cql:"content"`
	Type           MessageType   `json:"type" cql:"message_type"`
	MediaURL       string        `json:"media_url,omitempty" cql:"media_url"`
	MediaDuration  int           `json:"media_duration,omitempty" cql:"media_duration"`
	IsOneTimeView  bool          `json:"is_one_time_view,omitempty" cql:"is_one_time_view"`
	Status         MessageStatus `json:"status" cql:"status"`
	ReplyTo        *ReplyTo      `json:"reply_to,omitempty"`
	Reactions      []Reaction    `json:"reactions"`
	IsEdited       bool          `json:"is_edited,omitempty" cql:"is_edited"`
	IsDeleted      bool          `json:"is_deleted,omitempty" cql:"is_deleted"`
	Timestamp      time.Time     `json:"timestamp" cql:"created_at"`
}

// DeletedMessageText replaces the content of a soft-deleted message
const DeletedMessageText = "This message was deleted"

// Tombstone replaces the user-visible content of a soft-deleted message with
// DeletedMessageText. Identity, sender and timestamp are kept.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Text = DeletedMessageText
	m.MediaURL = ""
	m.MediaDuration = 0
	m.Type = MessageTypeText
}

// MessageSend is the request to append a message
type MessageSend struct {
	ConversationID  uuid.UUID   `json:"-"`
	SenderID        uuid.UUID   `json:"-"`
	SenderName      string      `json:"sender_name"`
	RecipientIDs    []uuid.UUID `json:"recipient_ids"`
	Text            string      `json:"text"`
	Type            MessageType `json:"type"`
	MediaURL        string      `json:"media_url,omitempty"`
	MediaDuration   int         `json:"media_duration,omitempty"`
	ReplyTo         *ReplyTo    `json:"reply_to,omitempty"`
	IsOneTimeView   bool        `json:"is_one_time_view,omitempty"`
	ClientMessageID *uuid.UUID  `json:"client_message_id,omitempty"`
}

// NewMessageID returns a time-based id for a message the server accepts at
// at. Cassandra clusters messages by this id, so it fixes the send order.
func NewMessageID(at time.Time) uuid.UUID {
	return uuid.UUID(gocql.UUIDFromTime(at))
}

// MessageTime extracts the send time from a time-based message id
func MessageTime(id uuid.UUID) time.Time {
	if id.Version() != 1 {
		return time.Time{}
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

// CalculateBucket returns the month bucket (yyyymm) a timestamp belongs to
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// BucketsBetween lists month buckets from..to inclusive, newest first
func BucketsBetween(from, to time.Time) []int {
	from = time.Date(from.UTC().Year(), from.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(to.UTC().Year(), to.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	if from.After(to) {
		return []int{CalculateBucket(to)}
	}
	var buckets []int
	for m := to; !m.Before(from); m = m.AddDate(0, -1, 0) {
		buckets = append(buckets, CalculateBucket(m))
	}
	return buckets
}
