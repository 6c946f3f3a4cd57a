package views

import (
	"fmt"

	"github.com/rivo/tview"

	"homechat/internal/chat"
	"homechat/internal/convo"
)

// Sidebar is the conversation list, grouped by counterpart: one header
// row per contact, conversation rows underneath.
type Sidebar struct {
	*tview.Table
	rows []string // conversation id per table row, "" for headers
}

// NewSidebar creates the grouped conversation table.
func NewSidebar() *Sidebar {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &Sidebar{Table: table}
}

// Update rebuilds the table from the grouped view.
func (sb *Sidebar) Update(groups []convo.Group, all []chat.Conversation) {
	sb.Clear()
	sb.rows = sb.rows[:0]

	byCounterpart := make(map[string][]chat.Conversation)
	for _, c := range all {
		byCounterpart[c.Counterpart.ID] = append(byCounterpart[c.Counterpart.ID], c)
	}

	row := 0
	for _, g := range groups {
		header := g.Counterpart.Name
		if g.Counterpart.Verified {
			header += " ✓"
		}
		if g.Conversations > 1 {
			header += fmt.Sprintf(" (%d threads)", g.Conversations)
		}
		if g.TotalUnread > 0 {
			header = fmt.Sprintf("[::b]%s [%d][-:-:-]", header, g.TotalUnread)
		}
		sb.SetCell(row, 0, tview.NewTableCell(" "+header).SetSelectable(false).SetExpansion(1))
		sb.rows = append(sb.rows, "")
		row++

		for _, c := range byCounterpart[g.Counterpart.ID] {
			label := "general"
			if c.Subject != nil {
				label = c.Subject.Title
			}
			if c.LastMessage != nil {
				preview := c.LastMessage.Content
				if len(preview) > 28 {
					preview = preview[:28] + "…"
				}
				label += " · " + preview
			}
			if c.UnreadCount > 0 {
				label = fmt.Sprintf("[::b]%s (%d)[-:-:-]", label, c.UnreadCount)
			}
			sb.SetCell(row, 0, tview.NewTableCell("   "+label).SetExpansion(1))
			sb.rows = append(sb.rows, c.ID)
			row++
		}
	}
}

// SelectedConversation returns the id of the selected conversation row,
// or "" when a header is selected.
func (sb *Sidebar) SelectedConversation() string {
	row, _ := sb.GetSelection()
	if row >= 0 && row < len(sb.rows) {
		return sb.rows[row]
	}
	return ""
}
