package transport

import (
	"encoding/json"

	"homechat/internal/bus"
	"homechat/internal/chat"
)

// envelope is the wire format for inbound push events.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeEvent turns a raw inbound frame into a typed bus event. Returns
// ok=false for malformed frames and unknown event types; both are dropped
// silently at this boundary so one bad frame never reaches subscribers.
func decodeEvent(raw []byte) (kind string, payload any, ok bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, false
	}

	switch env.Type {
	case "message":
		var m chat.Message
		if json.Unmarshal(env.Data, &m) != nil || m.ID == "" {
			return "", nil, false
		}
		return bus.KindPushMessage, m, true
	case "typing":
		var ts chat.TypingSignal
		if json.Unmarshal(env.Data, &ts) != nil || ts.ConversationID == "" {
			return "", nil, false
		}
		return bus.KindPushTyping, ts, true
	case "read_receipt":
		var rr chat.ReadReceipt
		if json.Unmarshal(env.Data, &rr) != nil || rr.ConversationID == "" {
			return "", nil, false
		}
		return bus.KindPushReadReceipt, rr, true
	default:
		return "", nil, false
	}
}

// command is the wire format for outbound client signals.
type command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	IsTyping       *bool  `json:"is_typing,omitempty"`
}
