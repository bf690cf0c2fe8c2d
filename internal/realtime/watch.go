package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// SnapshotFunc runs a query and hands the full result to the subscriber.
// A non-zero next asks for another run at that time even without events,
// e.g. when the earliest listed item expires.
type SnapshotFunc func(ctx context.Context) (next time.Time, err error)

// Subscription is a live query. Release it with Unsubscribe.
type Subscription struct {
	cancel  context.CancelFunc
	release func()
	done    chan struct{}
	once    sync.Once
}

// Watch subscribes to topics, runs snapshot once for the initial state and
// then again after every burst of events or at the requested time. An error
// from the initial snapshot is returned and nothing is left running.
//
// Snapshots run on a single goroutine, so the subscriber never sees two
// results concurrently. Unsubscribe must not be called from inside snapshot.
func Watch(ctx context.Context, broker Broker, channel string, snapshot SnapshotFunc, topics ...string) (*Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	// Subscribe before the first query so no change between them is lost
	events, release, err := broker.Subscribe(watchCtx, topics...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	next, err := snapshot(watchCtx)
	if err != nil {
		release()
		cancel()
		return nil, err
	}

	sub := &Subscription{
		cancel:  cancel,
		release: release,
		done:    make(chan struct{}),
	}

	metrics.RealtimeSubscriptionsActive.WithLabelValues(channel).Inc()
	go sub.loop(watchCtx, channel, events, snapshot, next)
	return sub, nil
}

func (s *Subscription) loop(ctx context.Context, channel string, events <-chan Event, snapshot SnapshotFunc, next time.Time) {
	defer close(s.done)
	defer s.release()
	defer metrics.RealtimeSubscriptionsActive.WithLabelValues(channel).Dec()

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	arm := func(at time.Time) {
		stopTimer(timer)
		if !at.IsZero() {
			timer.Reset(maxDuration(time.Until(at), 0))
		}
	}
	arm(next)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			drain(events)
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		at, err := snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RealtimeSnapshotErrorsTotal.WithLabelValues(channel).Inc()
			logger.Warn("Live query snapshot failed",
				zap.String("channel", channel),
				zap.Error(err))
			continue
		}
		arm(at)
	}
}

// Unsubscribe stops the watch and waits until no further snapshot can run.
// Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the watch has stopped, whether by Unsubscribe or by
// cancellation of the parent context
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// drain discards queued events; one snapshot covers all of them
func drain(events <-chan Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
