// Package session composes the messaging engine for one dashboard visit:
// the live channel, the fallback poller, the conversation store, the open
// message stream and the typing coordinator, all joined over the event
// bus. Everything here is in-memory and dies with the session.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"homechat/internal/backend"
	"homechat/internal/bus"
	"homechat/internal/chat"
	"homechat/internal/convo"
	"homechat/internal/poller"
	"homechat/internal/stream"
	"homechat/internal/transport"
	"homechat/internal/typing"
)

// Session is the engine facade the presentation layer talks to.
type Session struct {
	selfID    string
	bus       *bus.Bus
	backend   *backend.Client
	transport *transport.Manager
	store     *convo.Store
	typing    *typing.Coordinator
	poller    *poller.Poller
	logger    *zap.Logger

	mu     sync.Mutex
	active *stream.Controller
	unsub  func()
	closed bool
}

// Deps are the engine components a Session composes. All are required
// except Logger.
type Deps struct {
	SelfID    string
	Bus       *bus.Bus
	Backend   *backend.Client
	Transport *transport.Manager
	Store     *convo.Store
	Typing    *typing.Coordinator
	Logger    *zap.Logger
}

func New(d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		selfID:    d.SelfID,
		bus:       d.Bus,
		backend:   d.Backend,
		transport: d.Transport,
		store:     d.Store,
		typing:    d.Typing,
		logger:    logger,
	}
}

// AttachPoller hands the session its poller. Split from New because the
// poller's sink is the session itself.
func (s *Session) AttachPoller(p *poller.Poller) {
	s.poller = p
}

// Start connects the live channel, starts the fallback poller and begins
// routing push events.
func (s *Session) Start(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe("push.", 64)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	go s.route(ctx, ch)

	if err := s.transport.Connect(ctx); err != nil {
		// Non-fatal: the poller still feeds the session.
		s.logger.Warn("live channel unavailable at startup", zap.Error(err))
	}
	if s.poller != nil {
		s.poller.Start(ctx)
	}
	return nil
}

func (s *Session) route(ctx context.Context, ch <-chan bus.Event) {
	for evt := range ch {
		switch evt.Kind {
		case bus.KindPushMessage:
			msg, ok := evt.Payload.(chat.Message)
			if !ok {
				continue
			}
			s.handleIncoming(ctx, msg)
		case bus.KindPushTyping:
			if sig, ok := evt.Payload.(chat.TypingSignal); ok {
				s.typing.Observe(sig)
			}
		case bus.KindPushReadReceipt:
			if r, ok := evt.Payload.(chat.ReadReceipt); ok {
				s.handleReadReceipt(r)
			}
		}
	}
}

func (s *Session) handleIncoming(ctx context.Context, msg chat.Message) {
	isOpen, known := s.store.ApplyIncoming(msg)
	if !known {
		// Push about a conversation we haven't seen: a full refresh is
		// cheaper than guessing at the counterpart.
		if s.poller != nil {
			s.poller.Refresh(ctx)
		}
		return
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil && active.ConversationID() == msg.ConversationID {
		active.Receive(msg)
	}
	if isOpen {
		// The user is looking at it, so it's read the moment it lands.
		s.markRead(ctx, msg.ConversationID)
	}
}

func (s *Session) handleReadReceipt(r chat.ReadReceipt) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil && active.ConversationID() == r.ConversationID {
		active.ApplyReadReceipt(r.ReaderID)
	}
}

// Open makes a conversation the active one: hydrates its message window,
// marks it read everywhere and returns the stream controller the
// presentation layer renders from. Opening a second conversation replaces
// the first.
func (s *Session) Open(ctx context.Context, conversationID string) (*stream.Controller, error) {
	conv, ok := s.store.Get(conversationID)
	if !ok {
		return nil, fmt.Errorf("open conversation: unknown id %q", conversationID)
	}

	s.typing.Stop()

	ctrl := stream.New(stream.Options{
		ConversationID: conversationID,
		SelfID:         s.selfID,
		CounterpartID:  conv.Counterpart.ID,
	}, s.backend, s.transport, s.bus, s.logger)

	msgs, err := s.backend.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	ctrl.LoadFromPoll(msgs)

	s.mu.Lock()
	s.active = ctrl
	s.mu.Unlock()
	s.store.SetActive(conversationID)

	s.markRead(ctx, conversationID)
	return ctrl, nil
}

// CloseConversation navigates away from the active conversation. Its
// stream state is discarded; reopening refetches.
func (s *Session) CloseConversation() {
	s.typing.Stop()
	s.store.ClearActive()
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// Active returns the open stream controller, or nil.
func (s *Session) Active() *stream.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// StartConversation opens a thread with a counterpart about a subject,
// creating it server-side first. The server returns the existing thread
// when one already covers the pair, so repeated calls converge.
func (s *Session) StartConversation(ctx context.Context, counterpartID, subjectID string) (*stream.Controller, error) {
	conv, err := s.backend.CreateConversation(ctx, counterpartID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	s.store.Upsert(*conv)
	return s.Open(ctx, conv.ID)
}

// Send sends a message in the active conversation. Sending always ends
// the outbound typing state first.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return fmt.Errorf("send: no open conversation")
	}
	s.typing.Stop()
	return active.Send(ctx, content)
}

// Keystroke reports composer activity for the active conversation.
func (s *Session) Keystroke() {
	if id := s.store.ActiveID(); id != "" {
		s.typing.Keystroke(id)
	}
}

func (s *Session) markRead(ctx context.Context, conversationID string) {
	s.store.MarkRead(conversationID)
	if err := s.backend.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := s.transport.SendMarkRead(conversationID); err != nil {
		s.logger.Debug("mark read signal dropped", zap.Error(err))
	}
}

// Poller sink: wholesale conversation refresh.
func (s *Session) ApplyConversations(list []chat.Conversation) {
	s.store.UpsertFromPoll(list)
}

// Poller sink: the id whose message window the poller should refetch.
func (s *Session) ActiveConversation() string {
	return s.store.ActiveID()
}

// Poller sink: merge a polled message snapshot into the open stream.
func (s *Session) ApplyMessages(conversationID string, msgs []chat.Message) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil && active.ConversationID() == conversationID {
		active.LoadFromPoll(msgs)
	}
}

// Close tears the session down: poller, typing timers, live channel,
// event routing. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.active = nil
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.Stop()
	}
	s.typing.Close()
	s.transport.Close()
	if unsub != nil {
		unsub()
	}
	s.store.Reset()
}
