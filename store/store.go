package store

import (
	"errors"
	"sync"

	"github.com/debriefhq/debrief/model"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// ConversationStore defines the interface for conversation persistence.
// Implementations must serialize appends per conversation (the persisted
// form is a single encoded blob, so an append is a whole-log
// read-modify-write) and must serialize GetOrCreateForSpy per spy so that
// racing callers never create two active logs for one spy.
type ConversationStore interface {
	// Create allocates a new empty conversation for a spy
	Create(spyID string) (*model.Conversation, error)

	// Get retrieves a conversation by ID. Returns ErrNotFound if missing.
	Get(conversationID string) (*model.Conversation, error)

	// GetOrCreateForSpy returns the most-recently-updated conversation for
	// a spy, creating one if none exists
	GetOrCreateForSpy(spyID string) (*model.Conversation, error)

	// Append atomically extends a conversation's message log.
	// Returns ErrNotFound if the conversation does not exist.
	Append(conversationID string, msgs ...model.Message) error

	// Delete removes a conversation. Reports whether it existed.
	Delete(conversationID string) (bool, error)

	// ListBySpy returns all conversations for a spy, newest first
	ListBySpy(spyID string) ([]*model.Conversation, error)

	// List returns conversations ordered newest first, with pagination
	List(skip, limit int) ([]*model.Conversation, error)

	// Close releases backend resources
	Close() error
}

// lockTable hands out one mutex per string key. Backends use one table keyed
// by conversation ID to serialize appends and one keyed by spy ID to
// serialize get-or-create. Locks are never removed; the key space is small
// (one entry per live conversation or spy).
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for key, creating it on first use
func (lt *lockTable) get(key string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l, ok := lt.locks[key]
	if !ok {
		l = &sync.Mutex{}
		lt.locks[key] = l
	}
	return l
}
