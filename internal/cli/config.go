package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vyvern/vyvern/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Load the configuration the same way serve does, apply defaults and
environment overrides, and print the result. API keys are masked.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for i := range cfg.AI.Profiles {
		cfg.AI.Profiles[i].APIKey = maskKey(cfg.AI.Profiles[i].APIKey)
	}
	cfg.Driver.Password = maskKey(cfg.Driver.Password)

	fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n\n%s\n", loader.GetConfigPath(), cfg.String())
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
