package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the durable store's schema revisions",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up [revision]",
	Short: "Upgrade to a revision (default head)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := store.Head
		if len(args) == 1 {
			target = args[0]
		}
		return withMigrator(cmd.Context(), func(ctx context.Context, m *store.Migrator) error {
			if err := m.Upgrade(ctx, target); err != nil {
				return err
			}
			return printCurrent(ctx, m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down <revision|base>",
	Short: "Downgrade to a revision, or to base to drop every table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *store.Migrator) error {
			if err := m.Downgrade(ctx, args[0]); err != nil {
				return err
			}
			return printCurrent(ctx, m)
		})
	},
}

var migrateCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the applied revision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd.Context(), printCurrent)
	},
}

var migrateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List revisions oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *store.Migrator) error {
			cur, err := m.Current(ctx)
			if err != nil {
				return err
			}
			for _, r := range m.History() {
				down := r.Down
				if down == "" {
					down = "<base>"
				}
				marker := " "
				if r.ID == cur {
					marker = "*"
				}
				fmt.Printf("  %s %s -> %s  %s\n", marker, down, r.ID, r.Description)
			}
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateCurrentCmd, migrateHistoryCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withMigrator opens the configured database path without applying any
// revision, whatever backend the config selects.
func withMigrator(ctx context.Context, fn func(context.Context, *store.Migrator) error) error {
	path := decideBackend().DBPath
	db, err := store.OpenDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	m, err := store.NewMigrator(db, store.Revisions)
	if err != nil {
		return err
	}
	logger.Debug("migrating database", "path", path, "head", m.HeadID())
	return fn(ctx, m)
}

func printCurrent(ctx context.Context, m *store.Migrator) error {
	cur, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if cur == "" {
		cur = "<base>"
	}
	suffix := ""
	if cur == m.HeadID() {
		suffix = " (head)"
	}
	fmt.Printf("  Current revision: %s%s\n", cur, suffix)
	return nil
}
