package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"homechat/internal/bus"
)

// ErrNotConnected is returned by outbound sends while the live channel is
// not open. Callers treat the channel as best-effort: the authoritative
// REST call and the poller cover for it.
var ErrNotConnected = errors.New("live channel not connected")

// Options configures the connection manager.
type Options struct {
	Dialer      Dialer
	MaxAttempts int           // consecutive failed dials before permanent failure
	BaseDelay   time.Duration // first retry delay, doubled per failed attempt
	MaxDelay    time.Duration
}

func (o *Options) defaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 6
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
}

// Manager owns the single live push connection for a dashboard session:
// dialing, the read loop, reconnect-with-backoff after unexpected drops,
// and the transition to permanent failure once the retry budget is spent.
// Inbound frames are decoded here and fanned out on the bus; outbound
// typing/read/message signals go through the typed send helpers.
type Manager struct {
	dialer  Dialer
	machine *Machine
	bus     *bus.Bus
	logger  *zap.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       Conn
	attempts   int
	retryTimer *time.Timer
	closed     bool
}

// NewManager creates a connection manager. The connection is not dialed
// until Connect is called.
func NewManager(opts Options, b *bus.Bus, logger *zap.Logger) *Manager {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:      opts.Dialer,
		machine:     NewMachine(b),
		bus:         b,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// HasPermanentlyFailed reports whether the retry budget is exhausted.
// Once true the manager never dials again; the poller is the sole source
// of truth from here on.
func (m *Manager) HasPermanentlyFailed() bool {
	return m.machine.Current() == PermanentlyFailed
}

// Connect dials the live channel. Idempotent: a no-op while already
// connecting or open. A failed dial is never surfaced to the caller as a
// user-facing error; it is retried automatically per the backoff policy
// until the attempt budget is exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	switch m.machine.Current() {
	case Connecting, Open, PermanentlyFailed:
		m.mu.Unlock()
		return nil
	}
	_ = m.machine.Transition(Connecting)
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		m.logger.Warn("live channel dial failed", zap.Error(err))
		m.mu.Lock()
		_ = m.machine.Transition(Closed)
		m.attempts++
		if m.attempts >= m.maxAttempts {
			_ = m.machine.Transition(PermanentlyFailed)
			m.logger.Warn("retry budget exhausted, polling is now the only source",
				zap.Int("attempts", m.attempts))
		} else {
			m.scheduleRetryLocked()
		}
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.attempts = 0
	_ = m.machine.Transition(Open)
	m.mu.Unlock()

	m.logger.Info("live channel connected")
	go m.readLoop(conn)
	return nil
}

// Close tears the connection down intentionally: pending retry timers are
// cancelled and no reconnect is attempted.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	switch m.machine.Current() {
	case Open, Connecting:
		_ = m.machine.Transition(Closed)
	}
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// SendChatMessage fans a just-sent message out over the live channel so
// the counterpart sees it with low latency. The REST call remains the
// authoritative persist.
func (m *Manager) SendChatMessage(conversationID, content string) error {
	return m.send(command{Type: "message", ConversationID: conversationID, Content: content})
}

// SendTyping sends a typing start/stop signal for a conversation.
func (m *Manager) SendTyping(conversationID string, isTyping bool) error {
	return m.send(command{Type: "typing", ConversationID: conversationID, IsTyping: &isTyping})
}

// SendMarkRead tells the backend the conversation has been read, making a
// read receipt visible to the counterpart.
func (m *Manager) SendMarkRead(conversationID string) error {
	return m.send(command{Type: "mark_read", ConversationID: conversationID})
}

func (m *Manager) send(cmd command) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || m.machine.Current() != Open {
		return ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(m.ctx, data)
}

func (m *Manager) readLoop(conn Conn) {
	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.conn = nil
			}
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}

			m.logger.Warn("live channel dropped", zap.Error(err))
			m.mu.Lock()
			_ = m.machine.Transition(Closed)
			m.scheduleRetryLocked()
			m.mu.Unlock()
			return
		}

		kind, payload, ok := decodeEvent(data)
		if !ok {
			continue
		}
		m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}

// scheduleRetryLocked arms the reconnect timer. Delay doubles with each
// failed attempt, capped at MaxDelay. Caller holds m.mu.
func (m *Manager) scheduleRetryLocked() {
	if m.closed {
		return
	}
	delay := m.baseDelay << m.attempts
	if delay > m.maxDelay || delay <= 0 {
		delay = m.maxDelay
	}
	m.retryTimer = time.AfterFunc(delay, func() {
		_ = m.Connect(m.ctx)
	})
}
