package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Messaging metrics for the conversation, message, status and media lifecycle
var (
	ConversationCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_conversation_created_total",
		Help: "Total number of conversations created",
	}, []string{"kind"}) // "direct", "group"

	MessageSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_message_sent_total",
		Help: "Total number of messages appended",
	}, []string{"message_type"})

	MessageSendRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_message_send_rejected_total",
		Help: "Total number of sends rejected before the append",
	}, []string{"reason"}) // "blocked", "not_participant", "validation"

	MessageSummaryFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_summary_update_failed_total",
		Help: "Messages appended whose conversation summary update failed",
	})

	MessageSendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messaging_message_send_duration_seconds",
		Help:    "Time spent in each send step",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"step"}) // "append", "summary", "publish"

	MessageStatusAdvancedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_message_status_advanced_total",
		Help: "Total number of messages moved to a later delivery status",
	}, []string{"status"})

	MessageDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_message_deleted_total",
		Help: "Total number of soft-deleted messages",
	})

	StatusCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_status_created_total",
		Help: "Total number of statuses posted",
	}, []string{"type"})

	StatusViewedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_status_viewed_total",
		Help: "Total number of status view calls",
	})

	StatusPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_status_purged_total",
		Help: "Total number of expired statuses removed by the reaper",
	})

	NotificationAlertTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_notification_alert_total",
		Help: "In-app alerts raised by conversation watchers",
	}, []string{"conversation_kind"})

	NotificationSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_notification_suppressed_total",
		Help: "Conversation changes that did not raise an alert",
	}, []string{"reason"}) // "own_message", "viewing"

	PushSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_push_sent_total",
		Help: "Device push deliveries",
	}, []string{"result"})

	MediaUploadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_media_upload_total",
		Help: "Media upload attempts",
	}, []string{"kind", "result"}) // result: "ok", "too_large", "unsupported", "invalid", "failed"

	MediaUploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messaging_media_upload_bytes",
		Help:    "Size of accepted uploads",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
	}, []string{"kind"})

	RealtimeSubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "messaging_realtime_subscriptions_active",
		Help: "Live watch subscriptions",
	}, []string{"channel"})

	RealtimePublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_realtime_publish_errors_total",
		Help: "Change notifications that failed to publish",
	})

	RealtimeSnapshotErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_realtime_snapshot_errors_total",
		Help: "Snapshot queries that failed inside a live subscription",
	}, []string{"channel"})
)
