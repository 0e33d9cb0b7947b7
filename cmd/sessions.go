package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/cli"
	"github.com/theirongolddev/chatstate/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List stored chats, most recently updated first",
	RunE:    runSessions,
}

var sessionsLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Number of chats to show (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, c store.Choice) error {
		chats, err := b.ListConversations(ctx, sessionsLimit)
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle(fmt.Sprintf("CHATS  %s backend (showing %d)", c.Kind, len(chats))))
		fmt.Println()

		if len(chats) == 0 {
			fmt.Println("  No stored chats.")
			if c.Kind == store.KindMemory {
				fmt.Println(cli.RenderMuted("  The in-memory backend starts empty on every run. Use --durable to inspect SQLite."))
			}
			fmt.Println()
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(chats))
		for _, s := range chats {
			rows = append(rows, []string{
				s.ChatID,
				cli.FormatNumber(int64(s.MessageCount)),
				cli.FormatAgo(s.UpdatedAt, now),
				cli.Truncate(s.ProjectRoot, 40),
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Chat", "Msgs", "Updated", "Project"},
			Rows:    rows,
		}))
		fmt.Println()
		return nil
	})
}
