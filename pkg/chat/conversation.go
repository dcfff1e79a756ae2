package chat

import (
	"sync"

	"nutriflow/pkg/domain"
)

// Conversation is the in-memory ordered message sequence behind an open chat
// view. The initial history is sorted by the fetch; realtime inserts are
// appended in arrival order, deduplicated by message ID so a sender's own
// echo does not show twice.
type Conversation struct {
	mu   sync.Mutex
	msgs []domain.Message
	seen map[string]bool
}

// NewConversation seeds the sequence with fetched history.
func NewConversation(history []domain.Message) *Conversation {
	c := &Conversation{
		msgs: make([]domain.Message, 0, len(history)),
		seen: make(map[string]bool, len(history)),
	}
	for _, msg := range history {
		c.append(msg)
	}
	return c
}

// Append adds one incoming message, reporting whether it was new.
func (c *Conversation) Append(msg domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.append(msg)
}

func (c *Conversation) append(msg domain.Message) bool {
	if c.seen[msg.ID] {
		return false
	}
	c.seen[msg.ID] = true
	c.msgs = append(c.msgs, msg)
	return true
}

// Messages returns a copy of the current ordered sequence.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of messages held.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}
