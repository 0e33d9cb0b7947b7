package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/store"
)

var clearCmd = &cobra.Command{
	Use:   "clear <chat-id>...",
	Short: "Delete conversation state for chats (exchange records are kept)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, _ store.Choice) error {
		for _, id := range args {
			if err := b.ClearConversationState(ctx, id); err != nil {
				return err
			}
			fmt.Printf("  Cleared %s\n", id)
		}
		return nil
	})
}
