package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
)

var dumpConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration",
	Long: `Loads the configuration from file and CHILDMON_* environment variables and
validates it. With --dump, prints the effective configuration.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&dumpConfig, "dump", false, "Print the effective configuration")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if !dumpConfig {
		fmt.Println("Configuration is valid.")
		return nil
	}

	dump := *cfg
	if dump.Redis.Password != "" {
		dump.Redis.Password = "********"
	}
	fmt.Printf("Configuration loaded successfully:\n%s\n", spew.Sdump(dump))
	return nil
}
