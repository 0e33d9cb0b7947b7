package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/cli"
	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show messages, cache metadata, and exchanges for a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showJSON bool

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the stored session as JSON")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	chatID := args[0]
	return withBackend(cmd.Context(), func(ctx context.Context, b store.Backend, _ store.Choice) error {
		sess, found, err := b.GetConversationState(ctx, chatID)
		if err != nil {
			return err
		}
		exs, err := b.ListExchanges(ctx, chatID)
		if err != nil {
			return err
		}
		if !found && len(exs) == 0 {
			return fmt.Errorf("no state stored for chat %q", chatID)
		}

		if showJSON {
			if !found {
				return errors.New("chat has exchanges but no conversation state")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		}

		now := time.Now()
		fmt.Println()
		fmt.Println(cli.RenderTitle("CHAT  " + chatID))
		fmt.Println()

		if found {
			printSession(sess, now)
		} else {
			fmt.Println(cli.RenderWarning("conversation state cleared; exchange records retained"))
			fmt.Println()
		}
		if len(exs) > 0 {
			printExchanges(exs)
		}
		return nil
	})
}

func printSession(sess model.ChatSession, now time.Time) {
	pairs := []string{
		"Updated", fmt.Sprintf("%s (%s)", sess.UpdatedAt.Local().Format("Jan 02 15:04:05"), cli.FormatAgo(sess.UpdatedAt, now)),
		"Messages", cli.FormatNumber(int64(len(sess.Messages))),
	}
	if sess.ProjectRoot != "" {
		pairs = append(pairs, "Project", sess.ProjectRoot)
	}
	if sess.InitialRequest != "" {
		pairs = append(pairs, "Initial request", cli.Truncate(sess.InitialRequest, 70))
	}
	if ci := sess.CacheInfo; ci != nil {
		cache := cli.FormatTokens(ci.TokensCached) + " tokens cached"
		if ci.Provider != "" {
			cache += " (" + ci.Provider + ")"
		}
		pairs = append(pairs, "Cache", cache)
		if !ci.ExpiresAt.IsZero() {
			state := "expires " + cli.FormatAgo(ci.ExpiresAt, now)
			if ci.Expired(now) {
				state = "expired " + cli.FormatAgo(ci.ExpiresAt, now)
			}
			pairs = append(pairs, "Cache TTL", state)
		}
		if len(ci.Breakpoints) > 0 {
			pairs = append(pairs, "Breakpoints", fmt.Sprintf("%d", len(ci.Breakpoints)))
		}
	}
	fmt.Print(cli.RenderKV(pairs...))
	fmt.Println()

	for i, m := range sess.Messages {
		fmt.Print(cli.RenderMessage(i, m))
	}
	fmt.Println()
}

func printExchanges(exs []model.Exchange) {
	rows := make([][]string, 0, len(exs)+2)
	var total float64
	for _, ex := range exs {
		total += ex.Cost.EstimatedCost
		cost := cli.FormatCost(ex.Cost.EstimatedCost)
		if !ex.Cost.Priced {
			cost = "n/a"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", ex.ExchangeID),
			ex.Start.Local().Format("Jan 02 15:04"),
			cli.Truncate(ex.Model, 24),
			cli.FormatTokens(ex.Cost.TotalTokens()),
			cli.FormatDuration(ex.Duration()),
			cost,
		})
	}
	rows = append(rows, []string{"---"}, []string{"TOTAL", "", "", "", "", cli.FormatCost(total)})

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Exchanges",
		Headers: []string{"ID", "Started", "Model", "Tokens", "Took", "Cost"},
		Rows:    rows,
	}))
	fmt.Println()
}
