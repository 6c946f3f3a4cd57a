// Package typing debounces outbound typing signals and tracks which
// counterparts are currently typing, per conversation.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

const (
	// defaultIdleStop is how long after the last keystroke a typing=false
	// signal goes out.
	defaultIdleStop = 2 * time.Second

	// defaultIndicatorTTL is how long a received typing indicator stays
	// visible without a refresh. Slightly above the sender's idle window
	// so a healthy peer never flickers.
	defaultIndicatorTTL = 3 * time.Second
)

// SignalSender carries outbound typing signals. Errors are swallowed:
// typing is best-effort and never surfaces to the user.
type SignalSender interface {
	SendTyping(conversationID string, isTyping bool) error
}

// Options tune the coordinator; zero values take the defaults above.
type Options struct {
	IdleStop     time.Duration
	IndicatorTTL time.Duration
}

func (o *Options) defaults() {
	if o.IdleStop <= 0 {
		o.IdleStop = defaultIdleStop
	}
	if o.IndicatorTTL <= 0 {
		o.IndicatorTTL = defaultIndicatorTTL
	}
}

// Coordinator owns both directions of the typing protocol. Outbound: the
// first keystroke after idle sends typing=true, further keystrokes only
// re-arm the idle timer, and the timer firing (or an explicit Stop) sends
// a single typing=false. Inbound: indicators are kept per conversation
// with an expiry so a peer that disconnects mid-keystroke doesn't leave a
// stuck "typing..." label.
type Coordinator struct {
	opts   Options
	sender SignalSender
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	closed     bool
	activeConv string      // conversation with an outstanding typing=true
	idleTimer  *time.Timer // pending typing=false for activeConv

	indicators map[string]*indicator // conversation id -> who is typing
}

type indicator struct {
	actorName string
	expiry    *time.Timer
}

func New(opts Options, sender SignalSender, b *bus.Bus, logger *zap.Logger) *Coordinator {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		opts:       opts,
		sender:     sender,
		bus:        b,
		logger:     logger,
		indicators: make(map[string]*indicator),
	}
}

// Keystroke records input activity in a conversation. Only the edge from
// idle to typing produces a signal; the rest re-arm the idle timer.
func (c *Coordinator) Keystroke(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.activeConv == conversationID {
		c.idleTimer.Reset(c.opts.IdleStop)
		return
	}

	// Switched conversations mid-typing: close out the old one first.
	if c.activeConv != "" {
		c.stopLocked()
	}

	c.activeConv = conversationID
	c.idleTimer = time.AfterFunc(c.opts.IdleStop, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.activeConv != conversationID {
			return
		}
		c.stopLocked()
	})
	if err := c.sender.SendTyping(conversationID, true); err != nil {
		c.logger.Debug("typing start signal dropped", zap.Error(err))
	}
}

// Stop force-closes the outbound typing state, as when the user sends the
// message or leaves the conversation. Safe to call when already idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeConv == "" {
		return
	}
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	conv := c.activeConv
	c.activeConv = ""
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if err := c.sender.SendTyping(conv, false); err != nil {
		c.logger.Debug("typing stop signal dropped", zap.Error(err))
	}
}

// Observe applies an inbound typing signal. is_typing=true starts (or
// refreshes) the indicator; false clears it immediately.
func (c *Coordinator) Observe(sig chat.TypingSignal) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	conv := sig.ConversationID
	if ind, ok := c.indicators[conv]; ok {
		ind.expiry.Stop()
		delete(c.indicators, conv)
	}
	if sig.IsTyping {
		c.indicators[conv] = &indicator{
			actorName: sig.ActorName,
			expiry: time.AfterFunc(c.opts.IndicatorTTL, func() {
				c.expire(conv)
			}),
		}
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) expire(conversationID string) {
	c.mu.Lock()
	if _, ok := c.indicators[conversationID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.indicators, conversationID)
	c.mu.Unlock()
	c.notify()
}

// TypistIn returns the display name of whoever is typing in the
// conversation, or "" when nobody is.
func (c *Coordinator) TypistIn(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ind, ok := c.indicators[conversationID]; ok {
		return ind.actorName
	}
	return ""
}

// Close stops all timers. A typing=false for any outstanding outbound
// state still goes out so the peer isn't left watching a ghost.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.activeConv != "" {
		c.stopLocked()
	}
	for conv, ind := range c.indicators {
		ind.expiry.Stop()
		delete(c.indicators, conv)
	}
}

func (c *Coordinator) notify() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: time.Now(),
	})
}
