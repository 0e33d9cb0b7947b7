package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/cli"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/usage"
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Cost and token totals from recorded exchanges",
	RunE:  runCosts,
}

var (
	costsChat string
	costsDays int
)

func init() {
	costsCmd.Flags().StringVar(&costsChat, "chat", "", "Only exchanges for this chat id")
	costsCmd.Flags().IntVarP(&costsDays, "days", "n", 0, "Only exchanges started in the last N days (0 for all)")
	rootCmd.AddCommand(costsCmd)
}

func runCosts(cmd *cobra.Command, _ []string) error {
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, _ store.Choice) error {
		exs, err := b.ListExchanges(ctx, costsChat)
		if err != nil {
			return err
		}
		window := "all time"
		if costsDays > 0 {
			exs = usage.FilterByTime(exs, time.Now().AddDate(0, 0, -costsDays), time.Time{})
			window = fmt.Sprintf("last %dd", costsDays)
		}
		if costsChat != "" {
			window += ", chat " + costsChat
		}

		fmt.Println()
		fmt.Println(cli.RenderTitle("COSTS  " + window))
		fmt.Println()

		if len(exs) == 0 {
			fmt.Println("  No exchanges recorded.")
			fmt.Println()
			return nil
		}

		totals, models := usage.Aggregate(exs)
		pricer := usage.NewPricer(appCfg.Pricing)

		fmt.Print(cli.RenderKV(
			"Exchanges", cli.FormatNumber(int64(totals.Exchanges)),
			"Chats", cli.FormatNumber(int64(totals.Chats)),
			"Tokens", cli.FormatTokens(totals.Usage.TotalTokens()),
			"Model time", cli.FormatDuration(totals.Duration),
			"Estimated cost", cli.FormatCost(totals.TotalCost),
		))
		if totals.Unpriced > 0 {
			fmt.Println(cli.RenderWarning(fmt.Sprintf("%d exchanges used models with no known pricing", totals.Unpriced)))
		}
		fmt.Println()

		var savings float64
		rows := make([][]string, 0, len(models)+2)
		for _, m := range models {
			savings += pricer.CacheSavings(m.Model, m.Usage.CacheReadTokens)
			rows = append(rows, []string{
				cli.Truncate(m.Model, 28),
				cli.FormatNumber(int64(m.Exchanges)),
				cli.FormatTokens(m.Usage.InputTokens),
				cli.FormatTokens(m.Usage.OutputTokens),
				cli.FormatTokens(m.Usage.CacheCreation5mTokens + m.Usage.CacheCreation1hTokens + m.Usage.CacheReadTokens),
				cli.FormatCost(m.TotalCost),
			})
		}
		rows = append(rows, []string{"---"}, []string{
			"TOTAL",
			cli.FormatNumber(int64(totals.Exchanges)),
			cli.FormatTokens(totals.Usage.InputTokens),
			cli.FormatTokens(totals.Usage.OutputTokens),
			cli.FormatTokens(totals.Usage.CacheCreation5mTokens + totals.Usage.CacheCreation1hTokens + totals.Usage.CacheReadTokens),
			cli.FormatCost(totals.TotalCost),
		})

		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "By Model",
			Headers: []string{"Model", "Calls", "Input", "Output", "Cache", "Cost"},
			Rows:    rows,
		}))
		if savings > 0 {
			fmt.Printf("  Prompt cache saved about %s versus uncached input.\n", cli.FormatCost(savings))
		}
		fmt.Println()
		return nil
	})
}
