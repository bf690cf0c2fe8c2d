package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"marketchat-backend/internal/database"
	"marketchat-backend/internal/domain"
	"marketchat-backend/pkg/metrics"
)

// ErrMessageNotFound is returned when no message row matches
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository handles message storage in Cassandra.
// Rows are partitioned by (conversation_id, month bucket) and clustered by a
// time-based message_id, so the bucket is always derivable from the id.
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	conversation_id, message_id, sender_id, sender_name, content, message_type,
	media_url, media_duration, is_one_time_view, status,
	reply_to_id, reply_to_text, reply_to_sender, reactions,
	is_edited, is_deleted, created_at`

func bucketOf(messageID uuid.UUID) int {
	return domain.CalculateBucket(domain.MessageTime(messageID))
}

// ClaimClientID binds a sender's client message id to messageID. If the
// client id was bound by an earlier attempt, that message id is returned
// instead.
func (r *MessageRepository) ClaimClientID(ctx context.Context, conversationID, senderID, clientID, messageID uuid.UUID) (uuid.UUID, error) {
	existing := map[string]interface{}{}
	started := time.Now()
	applied, err := r.db.QueryWithContext(ctx, `
		INSERT INTO message_client_ids (conversation_id, sender_id, client_message_id, message_id)
		VALUES (?, ?, ?, ?)
		IF NOT EXISTS
	`,
		gocql.UUID(conversationID),
		gocql.UUID(senderID),
		gocql.UUID(clientID),
		gocql.UUID(messageID),
	).MapScanCAS(existing)
	metrics.RecordCassandraQuery("claim", "message_client_ids", started, err)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to claim client message id: %w", err)
	}
	if applied {
		return messageID, nil
	}

	metrics.CassandraLWTNotAppliedTotal.WithLabelValues("claim").Inc()
	bound, ok := existing["message_id"].(gocql.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("client message id %s has no bound message", clientID)
	}
	return uuid.UUID(bound), nil
}

// Insert appends a message. If a row with the same id already exists the
// stored message is returned with created=false.
func (r *MessageRepository) Insert(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	var (
		replyID     *gocql.UUID
		replyText   string
		replySender string
	)
	if msg.ReplyTo != nil {
		id := gocql.UUID(msg.ReplyTo.MessageID)
		replyID = &id
		replyText = msg.ReplyTo.Text
		replySender = msg.ReplyTo.SenderName
	}

	started := time.Now()
	applied, err := r.db.QueryWithContext(ctx, `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, sender_name, content,
			message_type, media_url, media_duration, is_one_time_view, status,
			reply_to_id, reply_to_text, reply_to_sender, reactions,
			is_edited, is_deleted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, {}, false, false, ?)
		IF NOT EXISTS
	`,
		gocql.UUID(msg.ConversationID),
		bucketOf(msg.MessageID),
		gocql.UUID(msg.MessageID),
		gocql.UUID(msg.SenderID),
		msg.SenderName,
		msg.Text,
		string(msg.Type),
		msg.MediaURL,
		msg.MediaDuration,
		msg.IsOneTimeView,
		string(msg.Status),
		replyID,
		replyText,
		replySender,
		msg.Timestamp,
	).MapScanCAS(map[string]interface{}{})
	metrics.RecordCassandraQuery("insert", "messages", started, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save message: %w", err)
	}

	if !applied {
		metrics.CassandraLWTNotAppliedTotal.WithLabelValues("insert").Inc()
		existing, err := r.Get(ctx, msg.ConversationID, msg.MessageID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return msg, true, nil
}

// Get retrieves one message
func (r *MessageRepository) Get(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	started := time.Now()
	iter := r.db.QueryWithContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
	`, gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID)).Iter()

	messages, err := scanMessages(iter)
	metrics.RecordCassandraQuery("select", "messages", started, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrMessageNotFound
	}
	return &messages[0], nil
}

// ListSince returns every message of the conversation from the month of
// since onwards, ordered by timestamp ascending.
func (r *MessageRepository) ListSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]domain.Message, error) {
	buckets := domain.BucketsBetween(since, time.Now())
	// BucketsBetween is newest first
	sort.Ints(buckets)

	all := []domain.Message{}
	for _, bucket := range buckets {
		started := time.Now()
		iter := r.db.QueryWithContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ? AND bucket = ?
			ORDER BY message_id ASC
		`, gocql.UUID(conversationID), bucket).Iter()

		messages, err := scanMessages(iter)
		metrics.RecordCassandraQuery("select", "messages", started, err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
		all = append(all, messages...)
	}
	return all, nil
}

// ListRecent returns up to limit of the newest messages, newest first
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, since time.Time, limit int) ([]domain.Message, error) {
	var recent []domain.Message
	for _, bucket := range domain.BucketsBetween(since, time.Now()) {
		started := time.Now()
		iter := r.db.QueryWithContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ? AND bucket = ?
			ORDER BY message_id DESC
			LIMIT ?
		`, gocql.UUID(conversationID), bucket, limit-len(recent)).Iter()

		messages, err := scanMessages(iter)
		metrics.RecordCassandraQuery("select", "messages", started, err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
		}
		recent = append(recent, messages...)
		if len(recent) >= limit {
			break
		}
	}
	return recent, nil
}

// AdvanceStatus moves a message to next if the transition is still allowed
// at write time. The condition is evaluated by Cassandra (Paxos), so
// concurrent writers cannot move a status backwards.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, conversationID, messageID uuid.UUID, next domain.MessageStatus) (bool, error) {
	var stmt string
	switch next {
	case domain.MessageStatusDelivered:
		stmt = `UPDATE messages SET status = 'delivered'
			WHERE conversation_id = ? AND bucket = ? AND message_id = ?
			IF status = 'sent'`
	case domain.MessageStatusRead:
		stmt = `UPDATE messages SET status = 'read'
			WHERE conversation_id = ? AND bucket = ? AND message_id = ?
			IF status != 'read'`
	default:
		return false, fmt.Errorf("unsupported status transition to %q", next)
	}

	started := time.Now()
	applied, err := r.db.QueryWithContext(ctx, stmt,
		gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID),
	).MapScanCAS(map[string]interface{}{})
	metrics.RecordCassandraQuery("update_status", "messages", started, err)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	if !applied {
		metrics.CassandraLWTNotAppliedTotal.WithLabelValues("update_status").Inc()
	}
	return applied, nil
}

// SoftDelete replaces the content of a message with the deleted marker and
// flags it deleted
func (r *MessageRepository) SoftDelete(ctx context.Context, conversationID, messageID uuid.UUID) error {
	return r.conditionalUpdate(ctx, "soft_delete", `
		UPDATE messages SET
			is_deleted = true, content = ?, media_url = null,
			media_duration = null, message_type = 'text'
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		IF EXISTS
	`, domain.DeletedMessageText, gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID))
}

// UpdateText replaces the text of a message and flags it edited
func (r *MessageRepository) UpdateText(ctx context.Context, conversationID, messageID uuid.UUID, text string) error {
	return r.conditionalUpdate(ctx, "edit", `
		UPDATE messages SET content = ?, is_edited = true
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		IF is_deleted = false
	`, text, gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID))
}

// SetReaction sets or clears (empty emoji) a user's reaction
func (r *MessageRepository) SetReaction(ctx context.Context, conversationID, messageID, userID uuid.UUID, emoji string) error {
	var err error
	started := time.Now()
	if emoji == "" {
		err = r.db.ExecWithContext(ctx, `
			DELETE reactions[?] FROM messages
			WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		`, gocql.UUID(userID), gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID))
	} else {
		err = r.db.ExecWithContext(ctx, `
			UPDATE messages SET reactions[?] = ?
			WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		`, gocql.UUID(userID), emoji, gocql.UUID(conversationID), bucketOf(messageID), gocql.UUID(messageID))
	}
	metrics.RecordCassandraQuery("reaction", "messages", started, err)
	if err != nil {
		return fmt.Errorf("failed to update reaction: %w", err)
	}
	return nil
}

func (r *MessageRepository) conditionalUpdate(ctx context.Context, operation, stmt string, values ...interface{}) error {
	started := time.Now()
	applied, err := r.db.QueryWithContext(ctx, stmt, values...).MapScanCAS(map[string]interface{}{})
	metrics.RecordCassandraQuery(operation, "messages", started, err)
	if err != nil {
		return fmt.Errorf("failed to %s message: %w", operation, err)
	}
	if !applied {
		metrics.CassandraLWTNotAppliedTotal.WithLabelValues(operation).Inc()
		return ErrMessageNotFound
	}
	return nil
}

func scanMessages(iter *gocql.Iter) ([]domain.Message, error) {
	var messages []domain.Message
	for {
		var (
			m                      domain.Message
			conversationID, msgID  gocql.UUID
			senderID               gocql.UUID
			msgType, status        string
			replyID                gocql.UUID
			replyText, replySender string
			reactions              map[gocql.UUID]string
		)
		if !iter.Scan(
			&conversationID,
			&msgID,
			&senderID,
			&m.SenderName,
			&m.Text,
			&msgType,
			&m.MediaURL,
			&m.MediaDuration,
			&m.IsOneTimeView,
			&status,
			&replyID,
			&replyText,
			&replySender,
			&reactions,
			&m.IsEdited,
			&m.IsDeleted,
			&m.Timestamp,
		) {
			break
		}

		m.ConversationID = uuid.UUID(conversationID)
		m.MessageID = uuid.UUID(msgID)
		m.SenderID = uuid.UUID(senderID)
		m.Type = domain.MessageType(msgType)
		m.Status = domain.MessageStatus(status)
		if replyID != (gocql.UUID{}) {
			m.ReplyTo = &domain.ReplyTo{
				MessageID:  uuid.UUID(replyID),
				Text:       replyText,
				SenderName: replySender,
			}
		}
		m.Reactions = reactionList(reactions)
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}

// reactionList flattens the user->emoji map in a stable order
func reactionList(reactions map[gocql.UUID]string) []domain.Reaction {
	list := make([]domain.Reaction, 0, len(reactions))
	for userID, emoji := range reactions {
		list = append(list, domain.Reaction{Emoji: emoji, UserID: uuid.UUID(userID)})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UserID.String() < list[j].UserID.String()
	})
	return list
}
