// Package store keeps conversations in memory for the lifetime of the
// process. Each conversation has its own lock, so concurrent requests on
// different conversations never wait on each other.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

// DefaultMaxConversations bounds the table; the least recently updated
// conversation is evicted first.
const DefaultMaxConversations = 1000

type Conversation struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	ProviderID   string         `json:"provider_id,omitempty"`
	Model        string         `json:"model,omitempty"`
	Messages     []chat.Message `json:"messages"`
	Rounds       int            `json:"rounds"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        chat.Usage     `json:"usage"`
	Error        bool           `json:"error"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (c *Conversation) clone() Conversation {
	cp := *c
	cp.Messages = make([]chat.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	for i := range cp.Messages {
		if calls := cp.Messages[i].ToolCalls; calls != nil {
			cp.Messages[i].ToolCalls = append([]chat.ToolCall(nil), calls...)
		}
	}
	return cp
}

type entry struct {
	mu   sync.Mutex
	conv Conversation
}

type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	now        func() time.Time
}

func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxConversations
	}

	return &Store{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// acquire returns the locked entry for id, creating it when missing.
func (s *Store) acquire(id string) *entry {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		if len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
		now := s.now()
		e = &entry{conv: Conversation{ID: id, CreatedAt: now, UpdatedAt: now}}
		s.entries[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e
}

func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range s.entries {
		// Entries held by a running request are skipped.
		if !e.mu.TryLock() {
			continue
		}
		updated := e.conv.UpdatedAt
		e.mu.Unlock()

		if oldestID == "" || updated.Before(oldest) {
			oldestID, oldest = id, updated
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}

// Update applies fn to the conversation under its lock.
func (s *Store) Update(id string, fn func(c *Conversation)) {
	e := s.acquire(id)
	defer e.mu.Unlock()

	fn(&e.conv)
	e.conv.UpdatedAt = s.now()
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Conversation{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.conv.clone(), true
}

// History returns the stored turns of a conversation, or nil.
func (s *Store) History(id string) []chat.Message {
	conv, ok := s.Get(id)
	if !ok {
		return nil
	}
	return conv.Messages
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// IDs returns the stored conversation ids, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
