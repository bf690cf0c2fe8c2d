package context

import (
	"context"
	"time"
)

// Timeouts for store and side-effect calls made by services
const (
	// ShortTimeout is for quick operations like cache or presence lookups
	ShortTimeout = 5 * time.Second

	// MediumTimeout is for database queries
	MediumTimeout = 10 * time.Second

	// LongTimeout is for multi-bucket scans and background jobs
	LongTimeout = 60 * time.Second
)

// WithShortTimeout creates a context with a short timeout
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithMediumTimeout creates a context with a medium timeout
func WithMediumTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, MediumTimeout)
}

// WithLongTimeout creates a context with a long timeout
func WithLongTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LongTimeout)
}

// Detached returns a context that keeps the parent's values but not its
// cancellation, bounded by timeout. Used for fire-and-forget side effects
// started from a request that may finish first.
func Detached(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
