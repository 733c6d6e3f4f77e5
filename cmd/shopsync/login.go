package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API token for the inventory service",
	Long: `Login saves an API token in the data directory. Later commands use it
unless api.token is configured.`,
	Example: `  shopsync login --instance pantry
  echo "$TOKEN" | shopsync login --token-stdin`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Logout(); err != nil {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

var loginTokenStdin bool

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().BoolVar(&loginTokenStdin, "token-stdin", false,
		"Read the token from standard input")
}

func runLogin(cmd *cobra.Command, args []string) error {
	var (
		token string
		err   error
	)
	if loginTokenStdin {
		token, err = bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && token == "" {
			return fmt.Errorf("read token: %w", err)
		}
	} else {
		token, err = promptSecret("API token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := apiClient.Login(token, instanceID); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{"success": true, "instance": instanceID})
	}
	printSuccess("Saved token for %s", cfg.API.BaseURL)
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	return string(secret), nil
}
