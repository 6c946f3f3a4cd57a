// Package tui is the terminal presentation layer. It renders engine
// state and translates key events into session calls; all messaging
// logic lives below it.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"homechat/internal/bus"
	"homechat/internal/convo"
	"homechat/internal/session"
	"homechat/internal/stream"
	"homechat/internal/transport"
	"homechat/internal/tui/views"
	"homechat/internal/typing"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	session   *session.Session
	store     *convo.Store
	typing    *typing.Coordinator
	transport *transport.Manager
	bus       *bus.Bus

	statusBar *views.StatusBar
	sidebar   *views.Sidebar
	msgView   *views.MessageView
	composer  *views.Composer
	searchBox *views.Composer
	filterBox *tview.InputField

	ctx          context.Context
	cancel       context.CancelFunc
	unsub        func()
	query        string // active message filter, "" when search is off
	listQuery    string // counterpart-name filter over the sidebar
	flash        string
	flashAt      time.Time
	pollDegraded bool
}

// Deps are everything the shell renders from.
type Deps struct {
	SelfID    string
	SelfName  string
	Session   *session.Session
	Store     *convo.Store
	Typing    *typing.Coordinator
	Transport *transport.Manager
	Bus       *bus.Bus
}

// NewApp creates the TUI application.
func NewApp(d Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		session:   d.Session,
		store:     d.Store,
		typing:    d.Typing,
		transport: d.Transport,
		bus:       d.Bus,
		statusBar: views.NewStatusBar(),
		sidebar:   views.NewSidebar(),
		filterBox: tview.NewInputField().SetLabel(" / ").SetFieldWidth(0),
		msgView:   views.NewMessageView(d.SelfID),
		composer:  views.NewComposer(),
		searchBox: views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetUser(d.SelfName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.sidebar.SetSelectedFunc(func(row, col int) {
		if id := a.sidebar.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnKeystroke(func() {
		a.session.Keystroke()
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.session.Send(a.ctx, text); err != nil {
				a.setFlash("Send failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.renderConversation)
		}()
	})

	a.searchBox.SetLabel(" / ")
	a.searchBox.SetChangedFunc(func(text string) {
		a.query = text
		a.renderConversation()
	})
	a.searchBox.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape || key == tcell.KeyEnter {
			a.app.SetFocus(a.msgView)
		}
	})

	a.filterBox.SetChangedFunc(func(text string) {
		a.listQuery = text
		a.renderSidebar()
	})
	a.filterBox.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape || key == tcell.KeyEnter {
			a.app.SetFocus(a.sidebar)
		}
	})
}

func (a *App) renderSidebar() {
	groups := convo.FilterGroups(a.store.GroupByCounterpart(), a.listQuery)
	a.sidebar.Update(groups, a.store.List())
}

func (a *App) setupLayout() {
	conversationFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.searchBox, 1, 0, false).
		AddItem(a.composer, 1, 0, false)

	listFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.sidebar, 0, 1, true).
		AddItem(a.filterBox, 1, 0, false)

	a.pages.AddPage("list", listFlex, true, true)
	a.pages.AddPage("conversation", conversationFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "conversation" {
			a.closeConversation()
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 'i':
				if currentPage == "conversation" {
					a.app.SetFocus(a.composer.InputField)
					return nil
				}
			case '/':
				if currentPage == "conversation" {
					a.app.SetFocus(a.searchBox.InputField)
				} else {
					a.app.SetFocus(a.filterBox)
				}
				return nil
			case 'e':
				if currentPage == "conversation" {
					if ctrl := a.session.Active(); ctrl != nil {
						ctrl.LoadEarlier()
						a.renderConversation()
					}
					return nil
				}
			}
		}

		return event
	})
}

func (a *App) openConversation(id string) {
	go func() {
		ctrl, err := a.session.Open(a.ctx, id)
		if err != nil {
			a.setFlash("Open failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			if conv, ok := a.store.Get(ctrl.ConversationID()); ok {
				title := conv.Counterpart.Name
				if conv.Subject != nil {
					title += " · " + conv.Subject.Title
				}
				a.msgView.SetConversationTitle(title)
			}
			a.renderConversation()
			a.pages.SwitchToPage("conversation")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) closeConversation() {
	a.session.CloseConversation()
	a.query = ""
	a.searchBox.SetText("")
	a.renderSidebar()
	a.pages.SwitchToPage("list")
	a.app.SetFocus(a.sidebar)
}

func (a *App) renderConversation() {
	ctrl := a.session.Active()
	if ctrl == nil {
		return
	}
	if a.query != "" {
		a.msgView.Update(ctrl.Search(a.query), false)
	} else {
		a.msgView.Update(ctrl.Visible(), ctrl.HasEarlier())
	}
	a.statusBar.SetTypist(a.typing.TypistIn(ctrl.ConversationID()))
}

func (a *App) setFlash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.flash = msg
		a.flashAt = time.Now()
		a.statusBar.SetFlash(msg)
	})
}

// Run starts the engine's event feed and the TUI main loop.
func (a *App) Run() error {
	ch, unsub := a.bus.Subscribe("", 128)
	a.unsub = unsub
	go a.watch(ch)

	a.renderSidebar()
	a.renderStatus()

	return a.app.Run()
}

func (a *App) watch(ch <-chan bus.Event) {
	for evt := range ch {
		a.app.QueueUpdateDraw(func() {
			switch evt.Kind {
			case bus.KindConversationsUpdated:
				a.renderSidebar()
			case bus.KindStreamUpdated, bus.KindTypingChanged, bus.KindMessageSent:
				a.renderConversation()
			case bus.KindConnStateChanged:
				a.renderStatus()
			case bus.KindPollDegraded:
				a.pollDegraded = true
				a.renderStatus()
			case bus.KindPollRecovered:
				a.pollDegraded = false
				a.renderStatus()
			case bus.KindMessageSendFailed:
				if f, ok := evt.Payload.(stream.SendFailure); ok {
					a.flash = "Send failed: " + f.Err.Error()
					a.flashAt = time.Now()
					a.statusBar.SetFlash(a.flash)
				}
			}
			if a.flash != "" && time.Since(a.flashAt) > 5*time.Second {
				a.flash = ""
				a.statusBar.SetFlash("")
			}
		})
	}
}

func (a *App) renderStatus() {
	switch a.transport.State() {
	case transport.Open:
		a.statusBar.SetChannel("live")
	case transport.Connecting:
		a.statusBar.SetChannel("connecting")
	default:
		// The live channel is down; the poller carries the session
		// unless it is failing too.
		if a.pollDegraded {
			a.statusBar.SetChannel("offline")
		} else {
			a.statusBar.SetChannel("polling")
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	if a.unsub != nil {
		a.unsub()
	}
	a.app.Stop()
}
