package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketchat-backend/pkg/constants"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Conversation events
	EventConversationCreate  AuditEventType = "conversation_create"
	EventGroupCreate         AuditEventType = "group_create"
	EventGroupMembersAdd     AuditEventType = "group_members_add"
	EventConversationBlock   AuditEventType = "conversation_block"
	EventConversationUnblock AuditEventType = "conversation_unblock"

	// Message events
	EventMessageDelete AuditEventType = "message_delete"
	EventMessageEdit   AuditEventType = "message_edit"

	// Media events
	EventMediaUpload AuditEventType = "media_upload"

	// Status events
	EventStatusPurge AuditEventType = "status_purge"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	EventType AuditEventType `json:"event_type"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Success   bool           `json:"success"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLogger handles audit logging
type AuditLogger struct {
	redisClient *redis.Client
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(redisClient *redis.Client) *AuditLogger {
	return &AuditLogger{
		redisClient: redisClient,
	}
}

func dayKey(t time.Time) string {
	return fmt.Sprintf("audit:events:%s", t.Format("2006-01-02"))
}

// Log logs an audit event
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = time.Now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := dayKey(event.Timestamp)
	pipe := al.redisClient.TxPipeline()
	pipe.LPush(ctx, key, eventJSON)
	pipe.Expire(ctx, key, constants.AuditLogRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	return nil
}

// LogConversationCreate records a new direct conversation
func (al *AuditLogger) LogConversationCreate(ctx context.Context, userID, conversationID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventConversationCreate,
		Resource:  conversationID.String(),
		Action:    "create",
		Success:   true,
	})
}

// LogGroupCreate records a new group conversation
func (al *AuditLogger) LogGroupCreate(ctx context.Context, adminID, conversationID uuid.UUID, memberCount int) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &adminID,
		EventType: EventGroupCreate,
		Resource:  conversationID.String(),
		Action:    "create",
		Success:   true,
		Details:   fmt.Sprintf("members: %d", memberCount),
	})
}

// LogGroupMembersAdd records members added to a group
func (al *AuditLogger) LogGroupMembersAdd(ctx context.Context, adminID, conversationID uuid.UUID, added int) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &adminID,
		EventType: EventGroupMembersAdd,
		Resource:  conversationID.String(),
		Action:    "add_members",
		Success:   true,
		Details:   fmt.Sprintf("added: %d", added),
	})
}

// LogConversationBlock records a participant blocking or unblocking a conversation
func (al *AuditLogger) LogConversationBlock(ctx context.Context, userID, conversationID uuid.UUID, blocked bool) error {
	event := &AuditEvent{
		UserID:    &userID,
		EventType: EventConversationBlock,
		Resource:  conversationID.String(),
		Action:    "block",
		Success:   true,
	}
	if !blocked {
		event.EventType = EventConversationUnblock
		event.Action = "unblock"
	}
	return al.Log(ctx, event)
}

// LogMessageDelete records a soft delete
func (al *AuditLogger) LogMessageDelete(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventMessageDelete,
		Resource:  fmt.Sprintf("%s/%s", conversationID, messageID),
		Action:    "delete",
		Success:   true,
	})
}

// LogMessageEdit records an edit
func (al *AuditLogger) LogMessageEdit(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventMessageEdit,
		Resource:  fmt.Sprintf("%s/%s", conversationID, messageID),
		Action:    "edit",
		Success:   true,
	})
}

// LogMediaUpload logs an accepted upload
func (al *AuditLogger) LogMediaUpload(ctx context.Context, userID uuid.UUID, objectKey, contentType string, size int64) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventMediaUpload,
		Resource:  objectKey,
		Action:    "upload",
		Success:   true,
		Details:   fmt.Sprintf("type: %s, size: %d bytes", contentType, size),
	})
}

// LogStatusPurge logs a reaper pass
func (al *AuditLogger) LogStatusPurge(ctx context.Context, removed int64, cutoff time.Time) error {
	return al.Log(ctx, &AuditEvent{
		EventType: EventStatusPurge,
		Action:    "purge",
		Success:   true,
		Details:   fmt.Sprintf("removed: %d, expired before: %s", removed, cutoff.Format(time.RFC3339)),
	})
}
