package store

import (
	"sort"
	"sync"
	"time"

	"github.com/debriefhq/debrief/model"
)

// MemoryStore is an in-memory implementation of ConversationStore.
// Used in tests and for running without a database.
type MemoryStore struct {
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
	spyLocks      *lockTable
}

// NewMemoryStore creates a new in-memory conversation store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		spyLocks:      newLockTable(),
	}
}

// Create allocates a new empty conversation for a spy
func (s *MemoryStore) Create(spyID string) (*model.Conversation, error) {
	conv := model.NewConversation(spyID)

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	return conv.Clone(), nil
}

// Get retrieves a conversation by ID
func (s *MemoryStore) Get(conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// GetOrCreateForSpy returns the most-recently-updated conversation for a
// spy, creating one if none exists. Serialized per spy so two racing calls
// cannot create two conversations.
func (s *MemoryStore) GetOrCreateForSpy(spyID string) (*model.Conversation, error) {
	lock := s.spyLocks.get(spyID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	var latest *model.Conversation
	for _, conv := range s.conversations {
		if conv.SpyID != spyID {
			continue
		}
		if latest == nil || conv.UpdatedAt.After(latest.UpdatedAt) {
			latest = conv
		}
	}
	s.mu.RUnlock()

	if latest != nil {
		return latest.Clone(), nil
	}
	return s.Create(spyID)
}

// Append atomically extends a conversation's message log
func (s *MemoryStore) Append(conversationID string, msgs ...model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = time.Now()
	return nil
}

// Delete removes a conversation, reporting whether it existed
func (s *MemoryStore) Delete(conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return false, nil
	}
	delete(s.conversations, conversationID)
	return true, nil
}

// ListBySpy returns all conversations for a spy, newest first
func (s *MemoryStore) ListBySpy(spyID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.SpyID == spyID {
			out = append(out, conv.Clone())
		}
	}
	sortByUpdatedAt(out)
	return out, nil
}

// List returns conversations ordered newest first, with pagination
func (s *MemoryStore) List(skip, limit int) ([]*model.Conversation, error) {
	s.mu.RLock()
	all := make([]*model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		all = append(all, conv.Clone())
	}
	s.mu.RUnlock()

	sortByUpdatedAt(all)
	if skip >= len(all) {
		return []*model.Conversation{}, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

func sortByUpdatedAt(convs []*model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
