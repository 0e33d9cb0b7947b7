package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/cli"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/usage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the selected backend and what it holds",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, c store.Choice) error {
		chats, err := b.ListConversations(ctx, 0)
		if err != nil {
			return err
		}
		exs, err := b.ListExchanges(ctx, "")
		if err != nil {
			return err
		}
		totals, _ := usage.Aggregate(exs)

		pairs := []string{
			"Backend", string(c.Kind),
			"Selected by", c.Reason,
		}
		if sq, ok := b.(*store.SQLiteStore); ok {
			m, err := store.NewMigrator(sq.DB(), store.Revisions)
			if err != nil {
				return err
			}
			rev, err := m.Current(ctx)
			if err != nil {
				return err
			}
			pairs = append(pairs, "Database", sq.Path(), "Revision", rev)
		}
		pairs = append(pairs,
			"Chats", cli.FormatNumber(int64(len(chats))),
			"Exchanges", cli.FormatNumber(int64(totals.Exchanges)),
			"Tokens", cli.FormatTokens(totals.Usage.TotalTokens()),
			"Cost", cli.FormatCost(totals.TotalCost),
		)

		fmt.Println()
		fmt.Println(cli.RenderTitle("CHATSTATE STATUS"))
		fmt.Println()
		fmt.Print(cli.RenderKV(pairs...))
		fmt.Println()
		return nil
	})
}
