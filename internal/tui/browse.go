// Package tui provides the interactive Bubble Tea session browser for chatstate.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatstate/internal/cli"
	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/tui/theme"
	"github.com/theirongolddev/chatstate/internal/usage"
)

// ChatsLoadedMsg carries a fresh chat listing.
type ChatsLoadedMsg struct {
	Chats []model.ChatSummary
	Err   error
}

// ChatLoadedMsg carries the detail of one chat.
type ChatLoadedMsg struct {
	ChatID    string
	Session   model.ChatSession
	Found     bool
	Exchanges []model.Exchange
	Err       error
}

// ChatClearedMsg reports the outcome of a clear.
type ChatClearedMsg struct {
	ChatID string
	Err    error
}

type browseMode int

const (
	modeList browseMode = iota
	modeDetail
)

const (
	opTimeout        = 10 * time.Second
	minContentHeight = 5
	chromeHeight     = 4 // title + status bar + padding
)

// Browser is the root Bubble Tea model for browsing stored chats.
type Browser struct {
	backend store.Backend
	now     func() time.Time

	chats     []model.ChatSummary
	table     table.Model
	viewport  viewport.Model
	mode      browseMode
	detailID  string
	loaded    bool
	confirmID string
	status    string
	err       error

	width  int
	height int
}

// NewBrowser returns a browser over backend.
func NewBrowser(backend store.Backend) Browser {
	t := theme.Active
	tbl := table.New(
		table.WithColumns(chatColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Bold(true).
		Foreground(t.Accent)
	styles.Selected = styles.Selected.
		Foreground(t.TextPrimary).
		Background(t.SurfaceHover).
		Bold(true)
	tbl.SetStyles(styles)

	return Browser{
		backend:  backend,
		now:      time.Now,
		table:    tbl,
		viewport: viewport.New(80, 20),
	}
}

func chatColumns(width int) []table.Column {
	fixed := 8 + 14 + 6 // messages, updated, cell padding
	chatW := 38
	projectW := width - fixed - chatW
	if projectW < 12 {
		projectW = 12
	}
	return []table.Column{
		{Title: "Chat", Width: chatW},
		{Title: "Msgs", Width: 6},
		{Title: "Updated", Width: 14},
		{Title: "Project", Width: projectW},
	}
}

// Init implements tea.Model.
func (b Browser) Init() tea.Cmd {
	return loadChatsCmd(b.backend)
}

// Update implements tea.Model.
func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		h := max(msg.Height-chromeHeight, minContentHeight)
		b.table.SetColumns(chatColumns(msg.Width))
		b.table.SetWidth(msg.Width)
		b.table.SetHeight(h)
		b.viewport.Width = msg.Width
		b.viewport.Height = h
		return b, nil

	case ChatsLoadedMsg:
		b.loaded = true
		b.err = msg.Err
		if msg.Err == nil {
			b.chats = msg.Chats
			b.table.SetRows(b.chatRows())
			if b.table.Cursor() >= len(b.chats) {
				b.table.SetCursor(max(len(b.chats)-1, 0))
			}
		}
		return b, nil

	case ChatLoadedMsg:
		if msg.ChatID != b.detailID {
			return b, nil
		}
		b.err = msg.Err
		if msg.Err == nil {
			b.viewport.SetContent(renderDetail(msg, b.now()))
			b.viewport.GotoTop()
		}
		return b, nil

	case ChatClearedMsg:
		b.err = msg.Err
		if msg.Err == nil {
			b.status = "cleared " + msg.ChatID
		}
		return b, loadChatsCmd(b.backend)

	case tea.KeyMsg:
		return b.handleKey(msg)
	}

	if b.mode == modeDetail {
		var cmd tea.Cmd
		b.viewport, cmd = b.viewport.Update(msg)
		return b, cmd
	}
	return b, nil
}

func (b Browser) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return b, tea.Quit
	}

	if b.confirmID != "" {
		id := b.confirmID
		b.confirmID = ""
		if key == "y" {
			b.status = "clearing " + id
			return b, clearChatCmd(b.backend, id)
		}
		b.status = ""
		return b, nil
	}

	switch b.mode {
	case modeDetail:
		switch key {
		case "q":
			return b, tea.Quit
		case "esc", "backspace", "h", "left":
			b.mode = modeList
			b.detailID = ""
			return b, nil
		}
		var cmd tea.Cmd
		b.viewport, cmd = b.viewport.Update(msg)
		return b, cmd

	default:
		switch key {
		case "q", "esc":
			return b, tea.Quit
		case "r":
			b.status = ""
			return b, loadChatsCmd(b.backend)
		case "enter", "l", "right":
			id, ok := b.selectedChat()
			if !ok {
				return b, nil
			}
			b.mode = modeDetail
			b.detailID = id
			b.viewport.SetContent(cli.RenderMuted("  Loading " + id + "..."))
			return b, loadChatCmd(b.backend, id)
		case "d", "x":
			if id, ok := b.selectedChat(); ok {
				b.confirmID = id
			}
			return b, nil
		}
		var cmd tea.Cmd
		b.table, cmd = b.table.Update(msg)
		return b, cmd
	}
}

func (b Browser) selectedChat() (string, bool) {
	if len(b.chats) == 0 {
		return "", false
	}
	i := b.table.Cursor()
	if i < 0 || i >= len(b.chats) {
		return "", false
	}
	return b.chats[i].ChatID, true
}

func (b Browser) chatRows() []table.Row {
	now := b.now()
	rows := make([]table.Row, len(b.chats))
	for i, c := range b.chats {
		rows[i] = table.Row{
			c.ChatID,
			cli.FormatNumber(int64(c.MessageCount)),
			cli.FormatAgo(c.UpdatedAt, now),
			c.ProjectRoot,
		}
	}
	return rows
}

// View implements tea.Model.
func (b Browser) View() string {
	t := theme.Active
	titleStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	errStyle := lipgloss.NewStyle().Foreground(t.Red)
	warnStyle := lipgloss.NewStyle().Foreground(t.Orange)

	var sb strings.Builder
	title := fmt.Sprintf(" chatstate · %s backend · %d chats", b.backend.Kind(), len(b.chats))
	if b.mode == modeDetail {
		title = " chat " + b.detailID
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")

	switch {
	case !b.loaded:
		sb.WriteString(mutedStyle.Render("  Loading chats..."))
	case b.mode == modeDetail:
		sb.WriteString(b.viewport.View())
	case len(b.chats) == 0:
		sb.WriteString(mutedStyle.Render("  No stored chats"))
	default:
		sb.WriteString(b.table.View())
	}
	sb.WriteString("\n")

	switch {
	case b.err != nil:
		sb.WriteString(errStyle.Render(" error: " + b.err.Error()))
	case b.confirmID != "":
		sb.WriteString(warnStyle.Render(" clear " + b.confirmID + "? exchanges are kept [y/N]"))
	case b.status != "":
		sb.WriteString(mutedStyle.Render(" " + b.status))
	case b.mode == modeDetail:
		sb.WriteString(mutedStyle.Render(" [esc]back  [j/k]scroll  [q]uit"))
	default:
		sb.WriteString(mutedStyle.Render(" [enter]open  [d]clear  [r]efresh  [q]uit"))
	}
	return sb.String()
}

func renderDetail(msg ChatLoadedMsg, now time.Time) string {
	var sb strings.Builder
	if !msg.Found {
		sb.WriteString(cli.RenderMuted("  No conversation state stored for this chat."))
		sb.WriteString("\n\n")
	} else {
		s := msg.Session
		pairs := []string{
			"Updated", cli.FormatAgo(s.UpdatedAt, now),
			"Messages", cli.FormatNumber(int64(len(s.Messages))),
		}
		if s.ProjectRoot != "" {
			pairs = append(pairs, "Project", s.ProjectRoot)
		}
		if s.InitialRequest != "" {
			pairs = append(pairs, "Request", cli.Truncate(s.InitialRequest, 80))
		}
		if ci := s.CacheInfo; ci != nil {
			state := "live"
			if ci.Expired(now) {
				state = "expired"
			}
			pairs = append(pairs, "Cache", fmt.Sprintf("%s tokens (%s)", cli.FormatTokens(ci.TokensCached), state))
		}
		sb.WriteString(cli.RenderKV(pairs...))
		sb.WriteString("\n")
		for i, m := range s.Messages {
			sb.WriteString(cli.RenderMessage(i, m))
		}
	}

	if len(msg.Exchanges) > 0 {
		totals, _ := usage.Aggregate(msg.Exchanges)
		sb.WriteString("\n")
		sb.WriteString(cli.RenderKV(
			"Exchanges", cli.FormatNumber(int64(totals.Exchanges)),
			"Tokens", cli.FormatTokens(totals.Usage.TotalTokens()),
			"Cost", cli.FormatCost(totals.TotalCost),
		))
	}
	return sb.String()
}

func loadChatsCmd(backend store.Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		chats, err := backend.ListConversations(ctx, 0)
		return ChatsLoadedMsg{Chats: chats, Err: err}
	}
}

func loadChatCmd(backend store.Backend, chatID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		sess, found, err := backend.GetConversationState(ctx, chatID)
		if err != nil {
			return ChatLoadedMsg{ChatID: chatID, Err: err}
		}
		exs, err := backend.ListExchanges(ctx, chatID)
		return ChatLoadedMsg{ChatID: chatID, Session: sess, Found: found, Exchanges: exs, Err: err}
	}
}

func clearChatCmd(backend store.Backend, chatID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return ChatClearedMsg{ChatID: chatID, Err: backend.ClearConversationState(ctx, chatID)}
	}
}
