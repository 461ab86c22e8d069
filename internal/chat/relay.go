package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// relayEnvelope carries an already encoded push event between instances so
// every instance delivers exactly the same bytes.
type relayEnvelope struct {
	Conversation ConversationRef `json:"conversation"`
	Event        json.RawMessage `json:"event"`
}

// RedisRelay is a Publisher that fans out through a Redis channel. Every
// instance runs Run, which delivers relayed events to its local hub.
type RedisRelay struct {
	redis   *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{redis: client, channel: channel, hub: hub, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, ref ConversationRef, msg *Message) error {
	event, err := encodeEvent(Event{Type: EventNewMessage, Conversation: &ref, Message: msg})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(relayEnvelope{Conversation: ref, Event: event})
	if err != nil {
		return err
	}
	if err := r.redis.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run listens for events from every instance until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.redis.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || !env.Conversation.Valid() {
		r.log.Warn("discarding malformed relay payload", zap.Error(err))
		return
	}
	r.hub.Deliver(env.Conversation, env.Event)
}
