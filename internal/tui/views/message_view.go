package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"homechat/internal/chat"
)

// MessageView renders the open conversation's message window.
type MessageView struct {
	*tview.TextView
	selfID string
}

// NewMessageView creates a new message view.
func NewMessageView(selfID string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, selfID: selfID}
}

// SetConversationTitle updates the pane title.
func (mv *MessageView) SetConversationTitle(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the view. hasEarlier adds the load-more hint at the
// top of the window.
func (mv *MessageView) Update(msgs []chat.Message, hasEarlier bool) {
	mv.Clear()

	if hasEarlier {
		_, _ = fmt.Fprint(mv, "[::d]-- press e to load earlier messages --[-:-:-]\n\n")
	}

	now := time.Now()
	for i := range msgs {
		m := &msgs[i]
		author := m.AuthorID
		if author == mv.selfID {
			author = "You"
		}

		marker := ""
		switch {
		case m.Pending():
			marker = " [yellow]…sending[-]"
		case m.AuthorID == mv.selfID && m.IsRead:
			marker = " [green]✓✓[-]"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			author, chat.FormatRelative(m.CreatedAt, now), marker, m.Content)
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}
