// Package convo holds the in-memory authoritative view of the user's
// conversation list for one dashboard session. It merges poll results,
// push events and local actions; it owns no persistence — the next poll
// is always free to correct it.
package convo

import (
	"sort"
	"strings"
	"sync"
	"time"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

// Store is the conversation list. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]chat.Conversation
	activeID string
	bus      *bus.Bus
}

// New creates an empty store. The bus may be nil (tests that don't
// observe change notifications).
func New(b *bus.Bus) *Store {
	return &Store{
		byID: make(map[string]chat.Conversation),
		bus:  b,
	}
}

// UpsertFromPoll replaces the list wholesale with a poll snapshot.
// Replacement is by id; the active selection is client-only derived state
// and survives the replacement (even a snapshot that momentarily lacks
// the open conversation does not close it).
func (s *Store) UpsertFromPoll(list []chat.Conversation) {
	s.mu.Lock()
	byID := make(map[string]chat.Conversation, len(list))
	for _, c := range list {
		byID[c.ID] = c
	}
	// Keep the open conversation visible across a stale snapshot.
	if s.activeID != "" {
		if _, ok := byID[s.activeID]; !ok {
			if prev, ok := s.byID[s.activeID]; ok {
				byID[s.activeID] = prev
			}
		}
	}
	s.byID = byID
	s.mu.Unlock()
	s.notify()
}

// Upsert merges a single conversation. Receiving an already-known id
// (e.g. the backend idempotently returning an existing conversation on
// create) replaces that entry; it never produces a duplicate.
func (s *Store) Upsert(c chat.Conversation) {
	s.mu.Lock()
	s.byID[c.ID] = c
	s.mu.Unlock()
	s.notify()
}

// Get returns a conversation by id.
func (s *Store) Get(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok
}

// SetActive marks the conversation the user currently has open.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
}

// ClearActive clears the open-conversation selection.
func (s *Store) ClearActive() {
	s.SetActive("")
}

// ActiveID returns the id of the open conversation, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// MarkRead zeroes a conversation's unread count (the user opened it and
// read receipts are on their way to the backend).
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	if c, ok := s.byID[id]; ok {
		c.UnreadCount = 0
		s.byID[id] = c
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyIncoming folds a pushed message into the list: the owning
// conversation's preview and ordering timestamp move forward, and its
// unread count grows unless it is the open conversation (which is
// implicitly being read — the caller sends the read receipt instead).
// Returns whether the conversation is the open one and whether it was
// known at all; an unknown conversation means the list is stale and the
// caller should refresh it.
func (s *Store) ApplyIncoming(msg chat.Message) (isOpen bool, known bool) {
	s.mu.Lock()
	c, ok := s.byID[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return false, false
	}
	isOpen = msg.ConversationID == s.activeID
	c.LastMessage = &chat.Preview{
		Content:   msg.Content,
		AuthorID:  msg.AuthorID,
		CreatedAt: msg.CreatedAt,
	}
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	if !isOpen {
		c.UnreadCount++
	}
	s.byID[msg.ConversationID] = c
	s.mu.Unlock()
	s.notify()
	return isOpen, true
}

// List returns all conversations ordered by UpdatedAt descending, ties
// broken by id so the order is deterministic.
func (s *Store) List() []chat.Conversation {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Group is one sidebar entry: all conversations with the same
// counterpart collapsed behind the most recently updated one.
type Group struct {
	Counterpart   chat.Counterpart
	Latest        chat.Conversation
	Conversations int
	TotalUnread   int
}

// GroupByCounterpart derives the grouped sidebar view. Recomputed from
// scratch on every call; never incrementally mutated, so it cannot drift
// from the underlying list. Conversation identities are not merged —
// only their display is.
func (s *Store) GroupByCounterpart() []Group {
	byUser := make(map[string]*Group)
	for _, c := range s.List() { // already sorted newest-first
		g, ok := byUser[c.Counterpart.ID]
		if !ok {
			byUser[c.Counterpart.ID] = &Group{
				Counterpart:   c.Counterpart,
				Latest:        c,
				Conversations: 1,
				TotalUnread:   c.UnreadCount,
			}
			continue
		}
		g.Conversations++
		g.TotalUnread += c.UnreadCount
	}

	out := make([]Group, 0, len(byUser))
	for _, g := range byUser {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Latest.UpdatedAt.Equal(out[j].Latest.UpdatedAt) {
			return out[i].Latest.UpdatedAt.After(out[j].Latest.UpdatedAt)
		}
		return out[i].Latest.ID < out[j].Latest.ID
	})
	return out
}

// FilterGroups narrows a grouped view to counterparts whose name contains
// the query, case-insensitively. Pure; an empty query returns the input.
func FilterGroups(groups []Group, query string) []Group {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return groups
	}
	out := groups[:0:0]
	for _, g := range groups {
		if strings.Contains(strings.ToLower(g.Counterpart.Name), query) {
			out = append(out, g)
		}
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Reset clears the store (navigation away / logout).
func (s *Store) Reset() {
	s.mu.Lock()
	s.byID = make(map[string]chat.Conversation)
	s.activeID = ""
	s.mu.Unlock()
}

func (s *Store) notify() {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindConversationsUpdated, Timestamp: time.Now()})
	}
}
