// Package constants defines application-wide constants for timeouts, limits, and messaging semantics.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second

	// UploadTimeout is the request timeout for media uploads
	UploadTimeout = 120 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a frame to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong from the peer
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxFrameSize is the largest inbound client frame
	WebSocketMaxFrameSize = 16 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue length
	WebSocketSendBuffer = 64
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Presence constants
const (
	// PresenceTTL is how long a heartbeat keeps a user online
	PresenceTTL = 5 * time.Minute

	// LastSeenRetention is how long last-seen timestamps are kept
	LastSeenRetention = 30 * 24 * time.Hour
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Audit log constants
const (
	// AuditLogRetention is the duration audit logs are retained
	AuditLogRetention = 90 * 24 * time.Hour // 90 days
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// MaxGroupNameLength is the maximum allowed group name length
	MaxGroupNameLength = 100

	// MaxGroupMembers is the maximum number of participants in a group
	MaxGroupMembers = 256

	// DefaultDisplayName is used when no name is known for a participant
	DefaultDisplayName = "User"

	// UnknownSenderName is the alert title fallback when the sender has no name
	UnknownSenderName = "Someone"

	// NotificationSound is the client sound cue attached to in-app alerts
	NotificationSound = "notification_pop"
)

// Status constants
const (
	// MaxStatusTextLength is the maximum length of a text status
	MaxStatusTextLength = 700
)

// Media size limits
const (
	MaxImageSize = 5 * 1024 * 1024
	MaxVideoSize = 50 * 1024 * 1024
	MaxAudioSize = 20 * 1024 * 1024
)

// ProfileCacheTTL bounds how stale a cached display name or photo may be
const ProfileCacheTTL = 5 * time.Minute
