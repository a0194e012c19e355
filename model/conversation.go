package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one append-only message log owned by a spy.
// Messages are persisted as a single encoded blob (see the history package),
// so appends are whole-log read-modify-write operations at the store layer.
type Conversation struct {
	// ID is an opaque unique identifier
	ID string

	// SpyID identifies the spy persona this conversation belongs to
	SpyID string

	// Messages is the ordered message log
	Messages []Message

	// Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConversation creates an empty conversation for a spy
func NewConversation(spyID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		SpyID:     spyID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the log and bumps UpdatedAt
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
}

// Clone returns a deep copy of the conversation. Stores hand out clones so
// callers can mutate the result without racing the store's own copy.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:        c.ID,
		SpyID:     c.SpyID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
