package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat-backend/internal/database"
	"marketchat-backend/internal/domain"
)

var (
	// ErrConversationNotFound is returned when no conversation row matches
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrParticipantNotFound is returned when the user is not a member
	ErrParticipantNotFound = errors.New("participant not found")
)

// ConversationRepository handles conversation and participant rows
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `
	c.conversation_id, c.is_group, COALESCE(c.group_name, ''), COALESCE(c.group_image, ''),
	c.created_by, c.last_message, c.last_message_time, c.last_message_sender_id,
	c.last_message_type, c.created_at, c.updated_at,
	p.user_id, p.display_name, p.photo_url, p.unread_count, p.is_admin, p.has_blocked, p.joined_at`

// FindDirect returns the id of the direct conversation with the given key
func (r *ConversationRepository) FindDirect(ctx context.Context, directKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT conversation_id FROM conversations WHERE direct_key = $1`, directKey,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrConversationNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}
	return id, nil
}

// CreateDirect inserts a direct conversation unless one already exists for
// directKey. It returns the id that owns the key and whether this call created it.
func (r *ConversationRepository) CreateDirect(
	ctx context.Context,
	conv *domain.Conversation,
	directKey string,
	participants []domain.ConversationParticipant,
) (uuid.UUID, bool, error) {
	id := conv.ConversationID
	created := false

	err := database.ExecuteTx(ctx, r.pool, "create_direct_conversation", func(tx pgx.Tx) error {
		created = false
		var inserted uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO conversations (
				conversation_id, is_group, direct_key, created_by, created_at, updated_at
			) VALUES ($1, false, $2, $3, $4, $4)
			ON CONFLICT (direct_key) DO NOTHING
			RETURNING conversation_id
		`, conv.ConversationID, directKey, conv.CreatedBy, conv.CreatedAt).Scan(&inserted)

		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race: the other side created it first
			return tx.QueryRow(ctx,
				`SELECT conversation_id FROM conversations WHERE direct_key = $1`, directKey,
			).Scan(&id)
		}
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}

		if err := insertParticipants(ctx, tx, inserted, participants); err != nil {
			return err
		}
		id = inserted
		created = true
		return nil
	})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
	}
	return id, created, nil
}

// CreateGroup inserts a group conversation with its members and initial summary
func (r *ConversationRepository) CreateGroup(ctx context.Context, conv *domain.Conversation, participants []domain.ConversationParticipant) error {
	err := database.ExecuteTx(ctx, r.pool, "create_group_conversation", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (
				conversation_id, is_group, group_name, group_image, created_by,
				last_message, last_message_time, last_message_sender_id, last_message_type,
				created_at, updated_at
			) VALUES ($1, true, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $9)
		`,
			conv.ConversationID,
			conv.GroupName,
			conv.GroupImage,
			conv.CreatedBy,
			conv.LastMessage,
			conv.LastMessageTime,
			conv.LastMessageSenderID,
			string(conv.LastMessageType),
			conv.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		return insertParticipants(ctx, tx, conv.ConversationID, participants)
	})
	if err != nil {
		return fmt.Errorf("failed to create group conversation: %w", err)
	}
	return nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, participants []domain.ConversationParticipant) error {
	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`
			INSERT INTO conversation_participants (
				conversation_id, user_id, display_name, photo_url, unread_count, is_admin, has_blocked, joined_at
			) VALUES ($1, $2, $3, $4, 0, $5, false, $6)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, conversationID, p.UserID, p.DisplayName, p.PhotoURL, p.IsAdmin, p.JoinedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to add participants: %w", err)
	}
	return nil
}

// AddParticipants adds members to a conversation and returns the ids that were new
func (r *ConversationRepository) AddParticipants(ctx context.Context, conversationID uuid.UUID, participants []domain.ConversationParticipant) ([]uuid.UUID, error) {
	var added []uuid.UUID
	err := database.ExecuteTx(ctx, r.pool, "add_participants", func(tx pgx.Tx) error {
		added = added[:0]
		for _, p := range participants {
			tag, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (
					conversation_id, user_id, display_name, photo_url, unread_count, is_admin, has_blocked, joined_at
				) VALUES ($1, $2, $3, $4, 0, false, false, $5)
				ON CONFLICT (conversation_id, user_id) DO NOTHING
			`, conversationID, p.UserID, p.DisplayName, p.PhotoURL, p.JoinedAt)
			if err != nil {
				return fmt.Errorf("failed to add participant: %w", err)
			}
			if tag.RowsAffected() == 1 {
				added = append(added, p.UserID)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE conversation_id = $1`, conversationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add participants: %w", err)
	}
	return added, nil
}

// GetByID retrieves a conversation with all of its participants
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		INNER JOIN conversation_participants p ON p.conversation_id = c.conversation_id
		WHERE c.conversation_id = $1
		ORDER BY p.joined_at ASC, p.user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conversations, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, ErrConversationNotFound
	}
	return conversations[0], nil
}

// ListByUser returns every conversation the user belongs to, most recent
// message first; conversations without messages come last, newest first.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		INNER JOIN conversation_participants me
			ON me.conversation_id = c.conversation_id AND me.user_id = $1
		INNER JOIN conversation_participants p ON p.conversation_id = c.conversation_id
		ORDER BY c.last_message_time DESC NULLS LAST, c.created_at DESC, c.conversation_id,
			p.joined_at ASC, p.user_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return scanConversations(rows)
}

// scanConversations folds joined conversation/participant rows, which must
// arrive grouped by conversation.
func scanConversations(rows pgx.Rows) ([]*domain.Conversation, error) {
	defer rows.Close()

	var conversations []*domain.Conversation
	var current *domain.Conversation
	for rows.Next() {
		var (
			id          uuid.UUID
			c           domain.Conversation
			lastType    string
			participant domain.ConversationParticipant
		)
		err := rows.Scan(
			&id,
			&c.IsGroup,
			&c.GroupName,
			&c.GroupImage,
			&c.CreatedBy,
			&c.LastMessage,
			&c.LastMessageTime,
			&c.LastMessageSenderID,
			&lastType,
			&c.CreatedAt,
			&c.UpdatedAt,
			&participant.UserID,
			&participant.DisplayName,
			&participant.PhotoURL,
			&participant.UnreadCount,
			&participant.IsAdmin,
			&participant.HasBlocked,
			&participant.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		if current == nil || current.ConversationID != id {
			current = domain.NewConversation(id)
			current.IsGroup = c.IsGroup
			current.GroupName = c.GroupName
			current.GroupImage = c.GroupImage
			current.CreatedBy = c.CreatedBy
			current.LastMessage = c.LastMessage
			current.LastMessageTime = c.LastMessageTime
			current.LastMessageSenderID = c.LastMessageSenderID
			current.LastMessageType = domain.MessageType(lastType)
			current.CreatedAt = c.CreatedAt
			current.UpdatedAt = c.UpdatedAt
			conversations = append(conversations, current)
		}
		participant.ConversationID = id
		current.AddParticipant(participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return conversations, nil
}

// SetBlocked adds or removes userID from the conversation's blockedBy set
func (r *ConversationRepository) SetBlocked(ctx context.Context, conversationID, userID uuid.UUID, blocked bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants SET has_blocked = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, blocked)
	if err != nil {
		return fmt.Errorf("failed to update block state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// ApplyMessage projects a stored message into the conversation: summary,
// sender's cached name and recipients' unread counters. It runs at most once
// per message id; the second call for the same id returns applied=false.
func (r *ConversationRepository) ApplyMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	summary domain.MessageSummary,
	recipientIDs []uuid.UUID,
) (bool, error) {
	applied := false
	err := database.ExecuteTx(ctx, r.pool, "apply_message", func(tx pgx.Tx) error {
		applied = false
		tag, err := tx.Exec(ctx, `
			INSERT INTO conversation_applied_messages (conversation_id, message_id, applied_at)
			VALUES ($1, $2, now())
			ON CONFLICT (conversation_id, message_id) DO NOTHING
		`, conversationID, summary.MessageID)
		if err != nil {
			return fmt.Errorf("failed to record applied message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		// The summary only moves forward in time
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET
				last_message = $2, last_message_time = $3,
				last_message_sender_id = $4, last_message_type = $5, updated_at = now()
			WHERE conversation_id = $1
				AND (last_message_time IS NULL OR last_message_time <= $3)
		`, conversationID, summary.Text, summary.Time, summary.SenderID, string(summary.Type))
		if err != nil {
			return fmt.Errorf("failed to update summary: %w", err)
		}

		if summary.SenderName != "" {
			_, err = tx.Exec(ctx, `
				UPDATE conversation_participants SET display_name = $3
				WHERE conversation_id = $1 AND user_id = $2
			`, conversationID, summary.SenderID, summary.SenderName)
			if err != nil {
				return fmt.Errorf("failed to refresh sender name: %w", err)
			}
		}

		if len(recipientIDs) > 0 {
			_, err = tx.Exec(ctx, `
				UPDATE conversation_participants SET unread_count = unread_count + 1
				WHERE conversation_id = $1 AND user_id = ANY($2) AND user_id != $3
			`, conversationID, recipientIDs, summary.SenderID)
			if err != nil {
				return fmt.Errorf("failed to increment unread counts: %w", err)
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply message: %w", err)
	}
	return applied, nil
}

// ResetUnread sets the user's unread counter to zero
func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// PurgeAppliedBefore removes dedupe ledger rows older than cutoff
func (r *ConversationRepository) PurgeAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversation_applied_messages WHERE applied_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge applied messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
