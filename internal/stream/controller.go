// Package stream holds the authoritative view of the currently open
// conversation's message window: ordering, dedup, optimistic sends with
// reconciliation, windowed pagination and read receipts.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

const (
	// defaultWindow is how many messages from the tail are visible before
	// the user loads earlier history.
	defaultWindow = 50

	// defaultDeleteGrace is how long a locally deleted message is shielded
	// from stale poll snapshots that still contain it. One poll interval:
	// after that the server copy is authoritative again.
	defaultDeleteGrace = 5 * time.Second
)

var (
	// ErrEmptyMessage rejects whitespace-only sends.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrSendInFlight rejects a second send while one is outstanding for
	// this conversation (double-click protection; sends are serialized).
	ErrSendInFlight = errors.New("a send is already in flight")
)

// Persister is the authoritative backend for message mutations.
// Implemented by backend.Client.
type Persister interface {
	SendMessage(ctx context.Context, conversationID, content string) (*chat.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// Fanout pushes a just-sent message over the live channel for low-latency
// delivery to the counterpart. Best-effort: failures are logged, never
// surfaced, because the Persister call is what actually stores it.
type Fanout interface {
	SendChatMessage(conversationID, content string) error
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	ConversationID string
	Content        string
	Err            error
}

// Options configures a Controller.
type Options struct {
	ConversationID string
	SelfID         string // the current user
	CounterpartID  string // the other participant
	Window         int
	DeleteGrace    time.Duration
}

// Controller manages one open conversation's message stream.
type Controller struct {
	conversationID string
	selfID         string
	counterpartID  string
	pageSize       int
	deleteGrace    time.Duration

	persister Persister
	fanout    Fanout
	bus       *bus.Bus
	logger    *zap.Logger

	mu             sync.Mutex
	messages       []chat.Message // ascending CreatedAt, ties in arrival order
	window         int
	sending        bool
	pendingDeletes map[string]time.Time // message id -> grace deadline
}

// New creates a controller for one conversation.
func New(opts Options, p Persister, f Fanout, b *bus.Bus, logger *zap.Logger) *Controller {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.DeleteGrace <= 0 {
		opts.DeleteGrace = defaultDeleteGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		conversationID: opts.ConversationID,
		selfID:         opts.SelfID,
		counterpartID:  opts.CounterpartID,
		pageSize:       opts.Window,
		deleteGrace:    opts.DeleteGrace,
		persister:      p,
		fanout:         f,
		bus:            b,
		logger:         logger,
		window:         opts.Window,
		pendingDeletes: make(map[string]time.Time),
	}
}

// ConversationID returns the conversation this controller owns.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// Send performs an optimistic send: a pending message appears
// immediately, the content fans out over the live channel, and the
// authoritative persist call either reconciles the pending entry to the
// server-confirmed message or rolls it back. Whitespace-only content and
// overlapping sends are rejected up front. The returned error is
// retriable by the user; there is no automatic retry (that is how
// duplicate sends happen).
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	pending := chat.Message{
		ID:             chat.LocalIDPrefix + uuid.NewString(),
		ConversationID: c.conversationID,
		AuthorID:       c.selfID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	c.insertLocked(pending)
	c.mu.Unlock()
	c.notify()

	if c.fanout != nil {
		if err := c.fanout.SendChatMessage(c.conversationID, content); err != nil {
			// Live channel down; the persist below still delivers.
			c.logger.Debug("live fan-out skipped", zap.Error(err))
		}
	}

	confirmed, err := c.persister.SendMessage(ctx, c.conversationID, content)

	c.mu.Lock()
	c.sending = false
	c.removeLocked(pending.ID)
	if err != nil {
		c.mu.Unlock()
		c.notify()
		c.publish(bus.KindMessageSendFailed, SendFailure{
			ConversationID: c.conversationID,
			Content:        content,
			Err:            err,
		})
		return fmt.Errorf("send message: %w", err)
	}
	// The confirmation may already be here via the push channel; never
	// insert it twice.
	if !c.containsLocked(confirmed.ID) {
		c.insertLocked(*confirmed)
	}
	c.mu.Unlock()
	c.notify()
	c.publish(bus.KindMessageSent, *confirmed)
	return nil
}

// Receive inserts a message arriving over the push channel, deduplicating
// by server id (including against a just-reconciled optimistic send
// echoing back) and honoring local delete markers.
func (c *Controller) Receive(msg chat.Message) {
	if msg.ConversationID != c.conversationID {
		return
	}
	c.mu.Lock()
	if _, deleted := c.pendingDeletes[msg.ID]; deleted {
		c.mu.Unlock()
		return
	}
	if c.containsLocked(msg.ID) {
		c.mu.Unlock()
		return
	}
	c.insertLocked(msg)
	c.mu.Unlock()
	c.notify()
}

// LoadFromPoll replaces the window with a poll snapshot, preserving
// pending optimistic sends the snapshot cannot know about and refusing to
// resurrect locally deleted messages until the snapshot confirms the
// deletion or the grace period elapses.
func (c *Controller) LoadFromPoll(msgs []chat.Message) {
	now := time.Now()

	c.mu.Lock()
	merged := make([]chat.Message, 0, len(msgs)+4)
	inPoll := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ConversationID != c.conversationID {
			continue
		}
		inPoll[m.ID] = true
		if deadline, ok := c.pendingDeletes[m.ID]; ok {
			if now.Before(deadline) {
				continue // stale snapshot; keep it deleted
			}
			delete(c.pendingDeletes, m.ID) // grace over, server wins
		}
		merged = append(merged, m)
	}
	// A snapshot that no longer contains a deleted id confirms the
	// deletion; the marker has done its job.
	for id := range c.pendingDeletes {
		if !inPoll[id] {
			delete(c.pendingDeletes, id)
		}
	}
	// Pending local sends survive the replacement.
	for _, m := range c.messages {
		if m.Pending() {
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	c.messages = merged
	c.mu.Unlock()
	c.notify()
}

// Delete removes a message optimistically and issues the authoritative
// delete. On failure the removal stands and the error is surfaced for the
// user; there is no rollback (documented trade-off: delete rarely fails,
// a refresh reconciles). The delete marker keeps a stale poll from
// resurrecting the message in the meantime.
func (c *Controller) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	c.removeLocked(messageID)
	c.pendingDeletes[messageID] = time.Now().Add(c.deleteGrace)
	c.mu.Unlock()
	c.notify()

	if err := c.persister.DeleteMessage(ctx, c.conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	c.publish(bus.KindMessageDeleted, messageID)
	return nil
}

// ApplyReadReceipt marks all of the current user's messages as read when
// the reader is the counterpart. Marking is monotonic; a receipt never
// un-reads anything.
func (c *Controller) ApplyReadReceipt(readerID string) {
	if readerID != c.counterpartID {
		return
	}
	c.mu.Lock()
	changed := false
	for i := range c.messages {
		if c.messages[i].AuthorID == c.selfID && !c.messages[i].IsRead {
			c.messages[i].IsRead = true
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// LoadEarlier expands the visible window backward by one page without
// refetching anything already loaded. Returns whether even earlier
// history remains.
func (c *Controller) LoadEarlier() bool {
	c.mu.Lock()
	c.window += c.pageSize
	if c.window > len(c.messages) {
		c.window = len(c.messages)
	}
	more := c.window < len(c.messages)
	c.mu.Unlock()
	c.notify()
	return more
}

// HasEarlier reports whether history beyond the visible window is loaded.
func (c *Controller) HasEarlier() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window < len(c.messages)
}

// Visible returns the tail of the stream inside the current window,
// oldest first.
func (c *Controller) Visible() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.messages) - c.window
	if start < 0 {
		start = 0
	}
	out := make([]chat.Message, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}

// Search filters the visible window by a case-insensitive substring match
// on content. Pure: no state changes, recomputed per call.
func (c *Controller) Search(query string) []chat.Message {
	visible := c.Visible()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return visible
	}
	out := visible[:0:0]
	for _, m := range visible {
		if strings.Contains(strings.ToLower(m.Content), query) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of loaded messages.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// insertLocked places m keeping CreatedAt ascending; equal timestamps
// keep arrival order. Caller holds c.mu.
func (c *Controller) insertLocked(m chat.Message) {
	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(m.CreatedAt)
	})
	c.messages = append(c.messages, chat.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
}

func (c *Controller) removeLocked(id string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *Controller) containsLocked(id string) bool {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return true
		}
	}
	return false
}

func (c *Controller) notify() {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: bus.KindStreamUpdated, Timestamp: time.Now(), Payload: c.conversationID})
	}
}

func (c *Controller) publish(kind string, payload any) {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
