package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration and backend decision",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	cfg := appCfg

	fmt.Printf("  Config file: %s\n", path)
	if _, err := os.Stat(path); err == nil {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [general]")
	fmt.Printf("    log_level:     %s\n", cfg.General.LogLevel)
	fmt.Printf("    theme:         %s\n", cfg.General.Theme)
	if cfg.General.ProjectRoot != "" {
		fmt.Printf("    project_root:  %s\n", cfg.General.ProjectRoot)
	}
	fmt.Println()

	fmt.Println("  [database]")
	if cfg.Database.Enabled != nil {
		fmt.Printf("    enabled:       %s\n", strconv.FormatBool(*cfg.Database.Enabled))
	} else {
		fmt.Println("    enabled:       not set")
	}
	fmt.Printf("    force_durable: %v\n", cfg.Database.ForceDurable)
	fmt.Printf("    path:          %s\n", config.GetDBPath(cfg))
	if v := os.Getenv(config.EnvDurable); v != "" {
		fmt.Printf("    %s=%s\n", config.EnvDurable, v)
	}
	fmt.Println()

	fmt.Println("  [server]")
	fmt.Printf("    addr:          %s\n", cfg.Server.Addr)
	fmt.Printf("    events_buffer: %d\n", cfg.Server.EventsBuffer)
	fmt.Println()

	if len(cfg.Pricing.Overrides) > 0 {
		fmt.Println("  [pricing.overrides]")
		for name := range cfg.Pricing.Overrides {
			fmt.Printf("    %s\n", name)
		}
		fmt.Println()
	}

	c := decideBackend()
	fmt.Printf("  Backend: %s (%s)\n", c.Kind, c.Reason)
	fmt.Println()
	fmt.Println("  Run `chatstate setup` to reconfigure.")
	return nil
}
