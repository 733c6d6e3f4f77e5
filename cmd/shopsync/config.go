package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/shopsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:     "example <path>",
	Short:   "Write an example config file",
	Example: `  shopsync config example ~/.config/shopsync/shopsync.yaml`,
	Args:    cobra.ExactArgs(1),
	// No client needed to write a file
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		printSuccess("Wrote %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd)
}
