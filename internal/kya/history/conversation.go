package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knowyouranimal/kya/internal/kya"
)

const (
	// DefaultTitle is used until a conversation has a user message.
	DefaultTitle = "New Chat"

	titleLimit = 40 // runes
	ellipsis   = "…"
)

// Conversation is a persisted chat thread
type Conversation struct {
	ID        string        `json:"id"`        // UUIDv7, time-ordered
	Title     string        `json:"title"`     // derived from the first user message
	Messages  []kya.Message `json:"messages"`  // never reordered by the store
	UpdatedAt int64         `json:"updatedAt"` // unix milliseconds of the last mutation
}

// newID returns a fresh conversation id: a millisecond timestamp prefix
// followed by random bits.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating conversation id: %w", err)
	}
	return id.String(), nil
}

// DeriveTitle returns the title for a message list: the first 40 characters of
// the first user message, with an ellipsis when it was cut.
func DeriveTitle(messages []kya.Message) string {
	for _, m := range messages {
		if m.Role != kya.RoleUser {
			continue
		}
		r := []rune(m.Content)
		if len(r) > titleLimit {
			return string(r[:titleLimit]) + ellipsis
		}
		return m.Content
	}
	return DefaultTitle
}

// ShortID returns the last 8 characters of the id. The leading characters of a
// UUIDv7 are a timestamp and collide for conversations created close together.
func (c *Conversation) ShortID() string {
	if len(c.ID) > 8 {
		return c.ID[len(c.ID)-8:]
	}
	return c.ID
}

// Updated returns UpdatedAt as a time.Time
func (c *Conversation) Updated() time.Time {
	return time.UnixMilli(c.UpdatedAt)
}

// MessageCount returns the number of messages in the conversation
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

func (c Conversation) clone() Conversation {
	c.Messages = kya.CloneMessages(c.Messages)
	return c
}
