package chat

import (
	"fmt"
	"time"
)

// FormatRelative renders a timestamp the way the dashboard shows it:
// "Just now" under a minute, then minutes, then hours, then the calendar
// date. Always computed at render time from the absolute timestamp.
func FormatRelative(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
