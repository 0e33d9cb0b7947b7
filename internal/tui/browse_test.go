package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
)

func newTestBrowser(t *testing.T) (Browser, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	if err := st.SaveConversationState(ctx, "c1", []model.Message{{Role: model.RoleUser, Content: "first chat"}}, model.Metadata{ProjectRoot: "/home/u"}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveConversationState(ctx, "c2", []model.Message{{Role: model.RoleUser, Content: "second chat"}}, model.Metadata{}); err != nil {
		t.Fatal(err)
	}
	b := NewBrowser(st)
	b.now = func() time.Time { return time.Now().Add(time.Minute) }
	m, _ := b.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m.(Browser), st
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, b Browser, cmd tea.Cmd) Browser {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m, _ := b.Update(cmd())
	return m.(Browser)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowserLoadsChats(t *testing.T) {
	b, _ := newTestBrowser(t)
	b = run(t, b, b.Init())
	if !b.loaded || len(b.chats) != 2 {
		t.Fatalf("loaded=%v chats=%d, want 2", b.loaded, len(b.chats))
	}
	view := b.View()
	if !strings.Contains(view, "c1") || !strings.Contains(view, "memory backend") {
		t.Fatalf("view missing chats:\n%s", view)
	}
}

func TestBrowserOpensDetail(t *testing.T) {
	b, _ := newTestBrowser(t)
	b = run(t, b, b.Init())

	m, cmd := b.Update(key("enter"))
	b = m.(Browser)
	if b.mode != modeDetail {
		t.Fatal("enter did not open detail")
	}
	want := b.detailID
	b = run(t, b, cmd)

	view := b.View()
	if !strings.Contains(view, "chat "+want) {
		t.Fatalf("detail title missing:\n%s", view)
	}
	if !strings.Contains(view, "chat") || !strings.Contains(view, "user") {
		t.Fatalf("detail body missing message:\n%s", view)
	}

	m, _ = b.Update(key("esc"))
	if m.(Browser).mode != modeList {
		t.Fatal("esc did not return to list")
	}
}

func TestBrowserClearNeedsConfirm(t *testing.T) {
	b, st := newTestBrowser(t)
	b = run(t, b, b.Init())
	target, _ := b.selectedChat()

	m, cmd := b.Update(key("d"))
	b = m.(Browser)
	if cmd != nil || b.confirmID != target {
		t.Fatalf("d should only ask for confirmation, confirmID=%q", b.confirmID)
	}
	if !strings.Contains(b.View(), "clear "+target+"?") {
		t.Fatal("confirmation prompt not shown")
	}

	m, cmd = b.Update(key("y"))
	b = m.(Browser)
	// Clear result triggers a reload.
	m, reload := b.Update(cmd())
	b = m.(Browser)
	b = run(t, b, reload)

	if _, ok, _ := st.GetConversationState(context.Background(), target); ok {
		t.Fatalf("chat %s still stored after clear", target)
	}
	if len(b.chats) != 1 {
		t.Fatalf("chats after clear = %d, want 1", len(b.chats))
	}
}

func TestBrowserCancelClear(t *testing.T) {
	b, st := newTestBrowser(t)
	b = run(t, b, b.Init())
	target, _ := b.selectedChat()

	m, _ := b.Update(key("d"))
	m, cmd := m.(Browser).Update(key("n"))
	if cmd != nil {
		t.Fatal("declining should not issue a command")
	}
	if m.(Browser).confirmID != "" {
		t.Fatal("confirmation not reset")
	}
	if _, ok, _ := st.GetConversationState(context.Background(), target); !ok {
		t.Fatal("chat cleared despite declining")
	}
}

func TestBrowserQuit(t *testing.T) {
	b, _ := newTestBrowser(t)
	_, cmd := b.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}

func TestBrowserEmptyStore(t *testing.T) {
	st := store.NewMemoryStore(nil)
	defer func() { _ = st.Close() }()
	b := NewBrowser(st)
	b = run(t, b, b.Init())
	if !strings.Contains(b.View(), "No stored chats") {
		t.Fatalf("empty view:\n%s", b.View())
	}
	if _, cmd := b.Update(key("enter")); cmd != nil {
		t.Fatal("enter on empty list issued a command")
	}
}
