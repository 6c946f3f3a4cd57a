package convo

import (
	"testing"
	"time"

	"homechat/internal/chat"
)

var (
	t0 = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func conv(id, userID string, unread int, updated time.Time) chat.Conversation {
	return chat.Conversation{
		ID:          id,
		Counterpart: chat.Counterpart{ID: userID, Name: "User " + userID},
		UnreadCount: unread,
		UpdatedAt:   updated,
	}
}

func TestListOrdering(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{
		conv("b", "u1", 0, t0),
		conv("a", "u2", 0, t2),
		conv("c", "u3", 0, t0), // same timestamp as b: id breaks the tie
	})

	got := s.List()
	wantIDs := []string{"a", "b", "c"}
	for i, w := range wantIDs {
		if got[i].ID != w {
			t.Errorf("List()[%d].ID = %q, want %q", i, got[i].ID, w)
		}
	}
}

func TestUpsertFromPollPreservesActiveSelection(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{conv("a", "u1", 0, t0), conv("b", "u2", 0, t1)})
	s.SetActive("a")

	// Stale snapshot without the open conversation must not close it.
	s.UpsertFromPoll([]chat.Conversation{conv("b", "u2", 1, t2)})

	if s.ActiveID() != "a" {
		t.Errorf("ActiveID = %q, want a", s.ActiveID())
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("open conversation dropped by stale poll snapshot")
	}
	if c, _ := s.Get("b"); c.UnreadCount != 1 {
		t.Errorf("b.UnreadCount = %d, want 1 (poll snapshot should win)", c.UnreadCount)
	}
}

func TestUpsertKnownIDIsNoOpMerge(t *testing.T) {
	s := New(nil)
	s.Upsert(conv("a", "u1", 2, t0))
	s.Upsert(conv("a", "u1", 2, t0)) // backend idempotently returned the same conversation

	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestApplyIncomingUnreadAccounting(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{
		conv("a", "u1", 0, t0),
		conv("b", "u2", 2, t0),
		conv("c", "u3", 5, t0),
	})
	s.SetActive("a")

	// Message for a closed conversation: its count grows.
	isOpen, known := s.ApplyIncoming(chat.Message{
		ID: "m1", ConversationID: "b", AuthorID: "u2", Content: "ping", CreatedAt: t1,
	})
	if isOpen || !known {
		t.Errorf("ApplyIncoming(closed) = (%v, %v), want (false, true)", isOpen, known)
	}

	// Message for the open conversation: implicitly read, count unchanged.
	isOpen, known = s.ApplyIncoming(chat.Message{
		ID: "m2", ConversationID: "a", AuthorID: "u1", Content: "pong", CreatedAt: t1,
	})
	if !isOpen || !known {
		t.Errorf("ApplyIncoming(open) = (%v, %v), want (true, true)", isOpen, known)
	}

	counts := map[string]int{}
	for _, c := range s.List() {
		counts[c.ID] = c.UnreadCount
	}
	want := map[string]int{"a": 0, "b": 3, "c": 5}
	for id, w := range want {
		if counts[id] != w {
			t.Errorf("unread[%s] = %d, want %d", id, counts[id], w)
		}
	}
}

func TestApplyIncomingUnknownConversation(t *testing.T) {
	s := New(nil)
	_, known := s.ApplyIncoming(chat.Message{ID: "m1", ConversationID: "ghost", CreatedAt: t1})
	if known {
		t.Error("unknown conversation reported as known")
	}
}

func TestApplyIncomingUpdatesPreviewAndOrdering(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{conv("a", "u1", 0, t2), conv("b", "u2", 0, t0)})

	s.ApplyIncoming(chat.Message{
		ID: "m1", ConversationID: "b", AuthorID: "u2", Content: "new offer", CreatedAt: t2.Add(time.Minute),
	})

	got := s.List()
	if got[0].ID != "b" {
		t.Errorf("List()[0].ID = %q, want b (moved up by incoming message)", got[0].ID)
	}
	if got[0].LastMessage == nil || got[0].LastMessage.Content != "new offer" {
		t.Errorf("preview = %+v, want content 'new offer'", got[0].LastMessage)
	}
}

func TestGroupByCounterpart(t *testing.T) {
	s := New(nil)
	// Two conversations with the same counterpart (different subjects),
	// one with another.
	a := conv("a", "u1", 1, t2)
	a.Subject = &chat.Subject{ID: "p1", Title: "Sunny flat"}
	b := conv("b", "u1", 2, t1)
	b.Subject = &chat.Subject{ID: "p2", Title: "Garden house"}
	c := conv("c", "u9", 4, t0)
	s.UpsertFromPoll([]chat.Conversation{a, b, c})

	groups := s.GroupByCounterpart()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	g := groups[0]
	if g.Counterpart.ID != "u1" {
		t.Fatalf("groups[0].Counterpart.ID = %q, want u1", g.Counterpart.ID)
	}
	if g.Latest.ID != "a" {
		t.Errorf("representative = %q, want a (most recently updated)", g.Latest.ID)
	}
	if g.Conversations != 2 {
		t.Errorf("Conversations = %d, want 2", g.Conversations)
	}
	if g.TotalUnread != 3 {
		t.Errorf("TotalUnread = %d, want 3", g.TotalUnread)
	}

	// Identities stay separate underneath the grouping.
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3 (grouping must not merge conversations)", s.Len())
	}
}

func TestGroupByCounterpartIsPureRecomputation(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{conv("a", "u1", 1, t0)})

	before := s.GroupByCounterpart()
	s.ApplyIncoming(chat.Message{ID: "m1", ConversationID: "a", AuthorID: "u1", Content: "x", CreatedAt: t1})
	after := s.GroupByCounterpart()

	if before[0].TotalUnread != 1 {
		t.Errorf("stale view mutated: TotalUnread = %d, want 1", before[0].TotalUnread)
	}
	if after[0].TotalUnread != 2 {
		t.Errorf("recomputed view: TotalUnread = %d, want 2", after[0].TotalUnread)
	}
}

func TestFilterGroups(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{
		conv("a", "alice", 0, t2),
		conv("b", "bob", 1, t1),
	})
	groups := s.GroupByCounterpart()

	got := FilterGroups(groups, "ALI")
	if len(got) != 1 || got[0].Counterpart.ID != "alice" {
		t.Errorf("FilterGroups(ALI) = %+v", got)
	}
	if got := FilterGroups(groups, ""); len(got) != 2 {
		t.Errorf("empty query filtered: %d groups", len(got))
	}
	if got := FilterGroups(groups, "nobody"); len(got) != 0 {
		t.Errorf("FilterGroups(nobody) = %+v", got)
	}
	// The filter never mutates its input.
	if len(groups) != 2 {
		t.Errorf("input mutated: %d groups", len(groups))
	}
}

func TestMarkReadAndReset(t *testing.T) {
	s := New(nil)
	s.UpsertFromPoll([]chat.Conversation{conv("a", "u1", 7, t0)})
	s.MarkRead("a")
	if c, _ := s.Get("a"); c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", c.UnreadCount)
	}

	s.SetActive("a")
	s.Reset()
	if s.Len() != 0 || s.ActiveID() != "" {
		t.Errorf("Reset left state behind: len=%d active=%q", s.Len(), s.ActiveID())
	}
}
