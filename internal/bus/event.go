package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, so "push." matches every event decoded off the live channel.
const (
	KindPushMessage     = "push.message"
	KindPushTyping      = "push.typing"
	KindPushReadReceipt = "push.read_receipt"

	KindConnStateChanged = "conn.state_changed"

	KindPollDegraded  = "poll.degraded"
	KindPollRecovered = "poll.recovered"

	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
	KindMessageDeleted    = "message.deleted"

	KindConversationsUpdated = "conversations.updated"
	KindStreamUpdated        = "stream.updated"
	KindTypingChanged        = "typing.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
