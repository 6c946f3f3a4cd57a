package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

// fakeConn is a scriptable Conn: frames pushed into the channel come out
// of Read; Drop makes Read fail like an unexpected closure.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection dropped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.Drop()
	return nil
}

func (c *fakeConn) Drop() {
	c.once.Do(func() { close(c.closed) })
}

// fakeDialer hands out scripted connections, or fails every dial.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	err   error
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	conn := d.conns[0]
	if len(d.conns) > 1 {
		d.conns = d.conns[1:]
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newManager(t *testing.T, d Dialer, b *bus.Bus) *Manager {
	t.Helper()
	if b == nil {
		b = bus.New()
	}
	m := NewManager(Options{
		Dialer:    d,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}, b, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestConnectIdempotent(t *testing.T) {
	d := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	m := newManager(t, d, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := d.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
	if m.State() != Open {
		t.Errorf("state = %s, want open", m.State())
	}
}

func TestPermanentFailureAfterRetryBudget(t *testing.T) {
	d := &fakeDialer{err: errors.New("refused")}
	m := newManager(t, d, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for !m.HasPermanentlyFailed() {
		select {
		case <-deadline:
			t.Fatalf("never reached permanent failure (dials=%d)", d.dialCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := d.dialCount(); got != 6 {
		t.Errorf("dial count = %d, want 6", got)
	}

	// No further automatic connects after the budget is spent.
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 6 {
		t.Errorf("dial count after permanent failure = %d, want 6", got)
	}

	// Explicit Connect is also a no-op now.
	_ = m.Connect(context.Background())
	if got := d.dialCount(); got != 6 {
		t.Errorf("dial count after explicit Connect = %d, want 6", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	m := newManager(t, d, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn1.Drop()

	deadline := time.After(2 * time.Second)
	for m.State() != Open || d.dialCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("did not reconnect (state=%s dials=%d)", m.State(), d.dialCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if m.HasPermanentlyFailed() {
		t.Error("reconnect succeeded but manager reports permanent failure")
	}
}

func TestInboundFramesPublished(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	b := bus.New()
	m := newManager(t, d, b)

	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	conn.frames <- []byte(`{"type":"message","data":{"id":"42","conversation_id":"c1","author_id":"u2","content":"hi","created_at":"2026-03-15T12:00:00Z"}}`)

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindPushMessage {
			t.Fatalf("kind = %q, want %q", evt.Kind, bus.KindPushMessage)
		}
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			t.Fatalf("payload type = %T, want chat.Message", evt.Payload)
		}
		if msg.ID != "42" || msg.Content != "hi" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for push event")
	}
}

func TestMalformedAndUnknownFramesDropped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	b := bus.New()
	m := newManager(t, d, b)

	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	conn.frames <- []byte(`not json at all`)
	conn.frames <- []byte(`{"type":"presence","data":{"user_id":"u9"}}`)
	conn.frames <- []byte(`{"type":"typing","data":{"conversation_id":"c1","actor_name":"Lina","is_typing":true}}`)

	// Only the valid typing frame should come through.
	select {
	case evt := <-ch:
		if evt.Kind != bus.KindPushTyping {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindPushTyping)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing event")
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected extra event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStateChangesObservable(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	b := bus.New()
	m := newManager(t, d, b)

	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []StateChange{
		{From: Closed, To: Connecting},
		{From: Connecting, To: Open},
	}
	for _, w := range want {
		select {
		case evt := <-ch:
			change, ok := evt.Payload.(StateChange)
			if !ok {
				t.Fatalf("payload type = %T, want StateChange", evt.Payload)
			}
			if change != w {
				t.Errorf("change = %v, want %v", change, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for state change")
		}
	}
}

func TestSendRequiresOpenChannel(t *testing.T) {
	d := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	m := newManager(t, d, nil)

	if err := m.SendTyping("c1", true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendTyping before connect: err = %v, want ErrNotConnected", err)
	}
}

func TestSendWritesCommand(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m := newManager(t, d, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.SendTyping("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := m.SendMarkRead("c1"); err != nil {
		t.Fatal(err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(conn.writes))
	}
	var cmd command
	if err := json.Unmarshal(conn.writes[0], &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "typing" || cmd.ConversationID != "c1" || cmd.IsTyping == nil || !*cmd.IsTyping {
		t.Errorf("typing command = %+v", cmd)
	}
}

func TestCloseCancelsRetry(t *testing.T) {
	d := &fakeDialer{err: errors.New("refused")}
	m := newManager(t, d, nil)

	_ = m.Connect(context.Background())
	m.Close()

	before := d.dialCount()
	time.Sleep(30 * time.Millisecond)
	if after := d.dialCount(); after != before {
		t.Errorf("dials continued after Close: %d -> %d", before, after)
	}
}
