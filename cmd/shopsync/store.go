package main

import (
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage local storage",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy cached lists and the queue to another storage backend",
	Long: `Migrate copies every stored entry from the configured backend into the
one named by --to. Switch storage.backend afterwards to start using it.`,
	Example: `  shopsync store migrate --to sqlite`,
	Args:    cobra.NoArgs,
	RunE:    runStoreMigrate,
}

var migrateTarget string

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeMigrateCmd)

	storeMigrateCmd.Flags().StringVar(&migrateTarget, "to", "",
		"Target backend (json, sqlite)")
	_ = storeMigrateCmd.MarkFlagRequired("to")
}

func runStoreMigrate(cmd *cobra.Command, args []string) error {
	n, err := apiClient.MigrateStore(migrateTarget)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"to": migrateTarget, "entries": n})
	}
	printSuccess("Copied %d entries to the %s backend", n, migrateTarget)
	printInfo("Set storage.backend = %q to use it.", migrateTarget)
	return nil
}

