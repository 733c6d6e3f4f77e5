package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/shopsync/internal/client"
	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/events"
)

var (
	cfgFile     string
	jsonOutput  bool
	offlineMode bool
	instanceID  string
	logLevel    string

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "Offline-first shopping list client",
	Long: `shopsync reads and edits shopping lists held by an inventory service.

Edits are applied locally first. While the service is unreachable they are
queued and replayed once it can be reached again.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if apiClient != nil {
			err = apiClient.Close()
		}
		if logger != nil {
			_ = logger.Close()
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default: ./shopsync.*, ~/.config/shopsync/shopsync.*)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&offlineMode, "offline", false,
		"Work from the local cache and queue edits")
	rootCmd.PersistentFlags().StringVarP(&instanceID, "instance", "i", os.Getenv(config.EnvPrefix+"_INSTANCE"),
		"Inventory instance to operate on")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if jsonOutput && cfg.Log.File == "" {
		// Keep stdout clean for JSON consumers
		cfg.Log.Level = "error"
	}
	color.NoColor = color.NoColor || !cfg.Log.Color

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	apiClient, err = client.New(cfg, client.Options{Offline: offlineMode}, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	return nil
}

func requireInstance() (string, error) {
	if instanceID == "" && apiClient != nil {
		instanceID = apiClient.DefaultInstance()
	}
	if instanceID == "" {
		return "", errors.New("no instance selected: pass --instance, set " + config.EnvPrefix + "_INSTANCE or login with --instance")
	}
	return instanceID, nil
}

// Output helpers

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
