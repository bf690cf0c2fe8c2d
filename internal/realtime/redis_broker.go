package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// RedisBroker fans events out across instances over Redis pub/sub
type RedisBroker struct {
	client *database.RedisClient
}

// NewRedisBroker creates a RedisBroker
func NewRedisBroker(client *database.RedisClient) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends ev on the topic channel
func (b *RedisBroker) Publish(ctx context.Context, topic string, ev Event) error {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.SafePublish(ctx, topic, data).Err(); err != nil {
		metrics.RealtimePublishErrorsTotal.Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub connection for topics. It returns once Redis has
// confirmed every topic, so no event published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (<-chan Event, func(), error) {
	if b.client.IsDegraded() {
		return nil, nil, database.ErrRedisDegraded
	}

	topics = uniqueTopics(topics)
	pubsub := b.client.Client.Subscribe(ctx, topics...)
	early, err := awaitSubscribed(ctx, pubsub, len(topics))
	if err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	for _, msg := range early {
		if ev, ok := decodeEvent(msg); ok {
			offer(out, ev)
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if ev, ok := decodeEvent(msg); ok {
					offer(out, ev)
				}
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			if err := pubsub.Close(); err != nil {
				logger.Debug("Failed to close pubsub", zap.Error(err))
			}
			<-done
		})
	}
	return out, release, nil
}

type pubsubReceiver interface {
	Receive(ctx context.Context) (interface{}, error)
}

// awaitSubscribed reads replies until Redis has confirmed the given number of
// channels. Redis confirms each channel separately, so messages for an early
// channel can arrive before the last confirmation; those are returned.
func awaitSubscribed(ctx context.Context, pubsub pubsubReceiver, channels int) ([]*redis.Message, error) {
	var early []*redis.Message
	for confirmed := 0; confirmed < channels; {
		reply, err := pubsub.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch r := reply.(type) {
		case *redis.Subscription:
			if r.Kind == "subscribe" {
				confirmed++
			}
		case *redis.Message:
			early = append(early, r)
		}
	}
	return early, nil
}

func decodeEvent(msg *redis.Message) (Event, bool) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		logger.Warn("Dropping malformed realtime event",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return Event{}, false
	}
	return ev, true
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	unique := make([]string, 0, len(topics))
	for _, t := range topics {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	return unique
}
