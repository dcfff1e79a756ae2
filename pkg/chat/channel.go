package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"nutriflow/internal/util"
	"nutriflow/pkg/domain"
	"nutriflow/pkg/store"
)

// ErrEmptyMessage is returned when a send carries no content.
var ErrEmptyMessage = errors.New("message content required")

// Channel is the two-party messaging abstraction: request/response history
// plus a realtime insert feed. History is always explicitly sorted; the feed
// delivers messages in arrival order.
type Channel struct {
	store  store.Store
	client *redis.Client
	prefix string
}

// NewChannel builds a messaging channel backed by the store and a Redis
// pub/sub connection for insert fan-out.
func NewChannel(st store.Store, redisAddr, redisPassword string) (*Channel, error) {
	addr := strings.TrimSpace(redisAddr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return &Channel{
		store:  st,
		client: redis.NewClient(&redis.Options{Addr: addr, Password: redisPassword}),
		prefix: "nutriflow:messages",
	}, nil
}

// pairTopic returns one topic per unordered user pair, so both directions of
// a conversation share a single feed.
func (c *Channel) pairTopic(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%s:%s:%s", c.prefix, userA, userB)
}

// History fetches the full conversation between two users, sorted ascending
// by creation time regardless of direction or insertion order.
func (c *Channel) History(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	msgs, err := c.store.ListConversation(userA, userB)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return msgs, nil
}

// Send persists a new message and then publishes it to the pair feed.
// Persistence failures return before anything is published: a failed send
// leaves both the store and every subscriber untouched.
func (c *Channel) Send(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	msg := domain.Message{
		ID:         util.NewID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.store.AppendMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode message: %w", err)
	}
	// The row is durable at this point; a publish failure only costs the
	// push and the message still shows up on the next history fetch.
	if err := c.client.Publish(ctx, c.pairTopic(senderID, receiverID), payload).Err(); err != nil {
		slog.Warn("message publish failed", "message_id", msg.ID, "err", err)
	}
	return msg, nil
}

// Subscribe opens one realtime feed for the pair and returns a handle the
// caller must Close when the view is torn down. Events arrive in publish
// order; the caller appends them incrementally instead of re-fetching.
func (c *Channel) Subscribe(ctx context.Context, userA, userB string) (*Subscription, error) {
	pubsub := c.client.Subscribe(ctx, c.pairTopic(userA, userB))
	// Confirm the subscription before handing out the handle so no insert
	// published after Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan domain.Message, 16),
		done:   make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

// Unread returns unread messages for a receiver grouped by sender, for the
// grouped-inbox view.
func (c *Channel) Unread(ctx context.Context, receiverID string) ([]domain.UnreadGroup, error) {
	return c.store.UnreadBySender(receiverID)
}

// MarkRead flips the read flag for the given message IDs. Best effort: an
// empty ID set is a no-op and failures must not block navigation.
func (c *Channel) MarkRead(ctx context.Context, ids []string) error {
	return c.store.MarkMessagesRead(ids)
}

// Subscription is a cancellable handle on one conversation feed.
type Subscription struct {
	pubsub    *redis.PubSub
	events    chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the ordered message feed. The channel is closed after
// Close, guaranteeing no deliveries past teardown.
func (s *Subscription) Events() <-chan domain.Message {
	return s.events
}

// Close releases the underlying pub/sub channel. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

func (s *Subscription) run() {
	defer close(s.events)
	for raw := range s.pubsub.Channel() {
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			slog.Warn("drop undecodable message event", "err", err)
			continue
		}
		// The send must not outlive Close: with a full buffer and no
		// reader left, a plain send would park this goroutine forever.
		select {
		case s.events <- msg:
		case <-s.done:
			return
		}
	}
}
