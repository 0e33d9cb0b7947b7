package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/chatstate/internal/model"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := RenderTable(Table{
		Headers: []string{"Chat", "Msgs"},
		Rows: [][]string{
			{"c1", "3"},
			{"---"},
			{"a-longer-id", "120"},
		},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// top, header, separator, c1, rule, long, bottom
	if len(lines) != 7 {
		t.Fatalf("got %d lines, want 7:\n%s", len(lines), out)
	}
	width := lipgloss.Width(lines[0])
	for i, l := range lines {
		if w := lipgloss.Width(l); w != width {
			t.Errorf("line %d width = %d, want %d: %q", i, w, width, l)
		}
	}
	if !strings.Contains(out, "a-longer-id") {
		t.Error("missing cell content")
	}
}

func TestRenderTableEmpty(t *testing.T) {
	if got := RenderTable(Table{}); got != "" {
		t.Fatalf("RenderTable(empty) = %q, want empty", got)
	}
}

func TestRenderTableFixedWidthsTruncate(t *testing.T) {
	out := RenderTable(Table{
		Headers: []string{"Chat"},
		Rows:    [][]string{{"abcdefghij"}},
		Widths:  []int{4},
	})
	if strings.Contains(out, "abcdefghij") {
		t.Fatalf("cell not truncated:\n%s", out)
	}
}

func TestRenderMessageIncludesToolCalls(t *testing.T) {
	out := RenderMessage(2, model.Message{
		Role:      model.RoleAssistant,
		Content:   "running it",
		ToolCalls: []model.ToolCall{{ID: "t1", Name: "bash", Arguments: []byte(`{"cmd":"ls"}`)}},
	})
	for _, want := range []string{"#2", "assistant", "running it", "call bash"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderMessage output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderKV(t *testing.T) {
	out := RenderKV("Chat", "c1", "Project root", "/home/u")
	if !strings.Contains(out, "/home/u") || strings.Count(out, "\n") != 2 {
		t.Fatalf("RenderKV = %q", out)
	}
}
