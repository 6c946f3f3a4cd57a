// Package poller keeps the conversation list and the open message window
// fresh over REST. It runs regardless of the live channel's health, so a
// broken websocket degrades to a slower feed instead of silence.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

const (
	defaultInterval = 5 * time.Second

	// degradedThreshold is how many consecutive failed ticks it takes to
	// call the fallback feed degraded.
	degradedThreshold = 3
)

// Backend is the REST surface a tick reads from.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Sink receives each tick's results.
type Sink interface {
	ApplyConversations(list []chat.Conversation)
	// ActiveConversation returns the id of the open conversation, or ""
	// when none is open. Only the open window is refetched.
	ActiveConversation() string
	ApplyMessages(conversationID string, msgs []chat.Message)
}

type Options struct {
	Interval time.Duration
}

// Poller runs the periodic refresh loop. Ticks are synchronous: a slow
// backend stretches the cycle rather than stacking overlapping fetches.
type Poller struct {
	interval time.Duration
	backend  Backend
	sink     Sink
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	failures int
	degraded bool
}

func New(opts Options, backend Backend, sink Sink, b *bus.Bus, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		interval: opts.Interval,
		backend:  backend,
		sink:     sink,
		bus:      b,
		logger:   logger,
	}
}

// Start launches the loop. The first tick runs immediately so a fresh
// session doesn't wait a full interval for data. Calling Start twice is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.tick(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh runs a single tick on demand, outside the timer cadence. Used
// after reconnects and when a push references an unknown conversation.
func (p *Poller) Refresh(ctx context.Context) {
	p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) {
	list, err := p.backend.ListConversations(ctx)
	if err != nil {
		p.recordFailure(err)
		return
	}
	p.sink.ApplyConversations(list)

	if active := p.sink.ActiveConversation(); active != "" {
		msgs, err := p.backend.ListMessages(ctx, active)
		if err != nil {
			p.recordFailure(err)
			return
		}
		p.sink.ApplyMessages(active, msgs)
	}
	p.recordSuccess()
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	crossed := p.failures == degradedThreshold && !p.degraded
	if crossed {
		p.degraded = true
	}
	failures := p.failures
	p.mu.Unlock()

	p.logger.Warn("poll tick failed", zap.Int("consecutive", failures), zap.Error(err))
	if crossed {
		p.publish(bus.KindPollDegraded)
	}
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	recovered := p.degraded
	p.failures = 0
	p.degraded = false
	p.mu.Unlock()

	if recovered {
		p.publish(bus.KindPollRecovered)
	}
}

// Degraded reports whether the fallback feed itself is failing.
func (p *Poller) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Poller) publish(kind string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}
