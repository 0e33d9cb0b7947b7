package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse stored chats interactively",
	RunE:  runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, _ store.Choice) error {
		p := tea.NewProgram(tui.NewBrowser(b), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("browser: %w", err)
		}
		return nil
	})
}
