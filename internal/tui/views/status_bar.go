package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the live channel state and transient notices.
type StatusBar struct {
	*tview.TextView
	user    string
	channel string
	typist  string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetUser updates the signed-in user display.
func (sb *StatusBar) SetUser(name string) {
	sb.user = name
	sb.render()
}

// SetChannel updates the delivery channel display: "live", "connecting",
// "polling" or "offline".
func (sb *StatusBar) SetChannel(state string) {
	sb.channel = state
	sb.render()
}

// SetTypist shows who is typing in the open conversation, "" to clear.
func (sb *StatusBar) SetTypist(name string) {
	sb.typist = name
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	channel := sb.channel
	switch channel {
	case "live":
		channel = "[green]live[-]"
	case "polling":
		channel = "[yellow]polling[-]"
	case "offline":
		channel = "[red]offline[-]"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.user, channel, clock)
	if sb.typist != "" {
		line += fmt.Sprintf(" | [green]%s is typing...[-]", sb.typist)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
