package typing

import (
	"sync"
	"testing"
	"time"

	"homechat/internal/chat"
)

type recordedSignal struct {
	conversationID string
	isTyping       bool
}

type mockSender struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (m *mockSender) SendTyping(conversationID string, isTyping bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, recordedSignal{conversationID, isTyping})
	return nil
}

func (m *mockSender) snapshot() []recordedSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedSignal, len(m.signals))
	copy(out, m.signals)
	return out
}

func newCoordinator(s SignalSender) *Coordinator {
	return New(Options{
		IdleStop:     20 * time.Millisecond,
		IndicatorTTL: 30 * time.Millisecond,
	}, s, nil, nil)
}

func TestKeystrokeSignalsOnlyOnEdge(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)
	defer c.Close()

	c.Keystroke("c1")
	c.Keystroke("c1")
	c.Keystroke("c1")

	got := s.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1 (repeat keystrokes only re-arm)", len(got))
	}
	if got[0] != (recordedSignal{"c1", true}) {
		t.Errorf("signal = %+v", got[0])
	}
}

func TestIdleTimerSendsSingleStop(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)
	defer c.Close()

	c.Keystroke("c1")
	time.Sleep(60 * time.Millisecond)

	got := s.snapshot()
	want := []recordedSignal{{"c1", true}, {"c1", false}}
	if len(got) != len(want) {
		t.Fatalf("signals = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signals[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// After going idle the next keystroke is a fresh edge.
	c.Keystroke("c1")
	got = s.snapshot()
	if len(got) != 3 || got[2] != (recordedSignal{"c1", true}) {
		t.Errorf("signals after re-typing = %+v", got)
	}
}

func TestKeystrokeResetsIdleTimer(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)
	defer c.Close()

	c.Keystroke("c1")
	time.Sleep(12 * time.Millisecond)
	c.Keystroke("c1")
	time.Sleep(12 * time.Millisecond)

	// Two keystrokes 12ms apart with a 20ms window: still typing.
	if got := s.snapshot(); len(got) != 1 {
		t.Fatalf("stop fired despite activity: %+v", got)
	}
}

func TestStopIsForcedAndIdempotent(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)
	defer c.Close()

	c.Keystroke("c1")
	c.Stop()
	c.Stop()
	time.Sleep(40 * time.Millisecond) // cancelled timer must not fire

	got := s.snapshot()
	want := []recordedSignal{{"c1", true}, {"c1", false}}
	if len(got) != len(want) {
		t.Fatalf("signals = %+v, want exactly %+v", got, want)
	}
}

func TestSwitchingConversationClosesOldOne(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)
	defer c.Close()

	c.Keystroke("c1")
	c.Keystroke("c2")

	got := s.snapshot()
	want := []recordedSignal{{"c1", true}, {"c1", false}, {"c2", true}}
	if len(got) != len(want) {
		t.Fatalf("signals = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signals[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestObserveTracksAndExpires(t *testing.T) {
	c := newCoordinator(&mockSender{})
	defer c.Close()

	c.Observe(chat.TypingSignal{ConversationID: "c1", ActorName: "Alice", IsTyping: true})
	if got := c.TypistIn("c1"); got != "Alice" {
		t.Errorf("TypistIn = %q, want Alice", got)
	}
	if got := c.TypistIn("c2"); got != "" {
		t.Errorf("TypistIn(c2) = %q, want empty", got)
	}

	// Refreshed indicators outlive the original TTL.
	time.Sleep(20 * time.Millisecond)
	c.Observe(chat.TypingSignal{ConversationID: "c1", ActorName: "Alice", IsTyping: true})
	time.Sleep(20 * time.Millisecond)
	if got := c.TypistIn("c1"); got != "Alice" {
		t.Errorf("refreshed indicator expired early: %q", got)
	}

	// And without refreshes it clears on its own.
	time.Sleep(40 * time.Millisecond)
	if got := c.TypistIn("c1"); got != "" {
		t.Errorf("indicator never expired: %q", got)
	}
}

func TestObserveExplicitStopClearsImmediately(t *testing.T) {
	c := newCoordinator(&mockSender{})
	defer c.Close()

	c.Observe(chat.TypingSignal{ConversationID: "c1", ActorName: "Alice", IsTyping: true})
	c.Observe(chat.TypingSignal{ConversationID: "c1", ActorName: "Alice", IsTyping: false})
	if got := c.TypistIn("c1"); got != "" {
		t.Errorf("TypistIn = %q, want empty after explicit stop", got)
	}
}

func TestCloseFlushesOutboundState(t *testing.T) {
	s := &mockSender{}
	c := newCoordinator(s)

	c.Keystroke("c1")
	c.Observe(chat.TypingSignal{ConversationID: "c2", ActorName: "Bob", IsTyping: true})
	c.Close()

	got := s.snapshot()
	want := []recordedSignal{{"c1", true}, {"c1", false}}
	if len(got) != len(want) {
		t.Fatalf("signals = %+v, want %+v", got, want)
	}
	if got := c.TypistIn("c2"); got != "" {
		t.Errorf("indicator survived Close: %q", got)
	}

	// Input after Close is inert.
	c.Keystroke("c1")
	if got := s.snapshot(); len(got) != 2 {
		t.Errorf("keystroke after Close produced a signal: %+v", got)
	}
}
