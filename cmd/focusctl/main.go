// Command focusctl is the focus-mode CLI, a thin client of the assistantd
// HTTP API for enabling focus sessions, driving pomodoros, tailing the event
// stream, and managing webhook subscriptions.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	apiURL     string
	userID     string
	jsonOutput bool

	client *apiClient
)

func defaultAPIURL() string {
	if s := os.Getenv("ASSISTANT_API_URL"); s != "" {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return "http://" + s
		}
		return s
	}
	return "http://localhost:8090"
}

func defaultUser() string {
	if s := os.Getenv("ASSISTANT_USER"); s != "" {
		return s
	}
	return os.Getenv("USER")
}

var rootCmd = &cobra.Command{
	Use:   "focusctl <command>",
	Short: "Focus-mode CLI for the assistant control plane",
	Long: `focusctl drives focus sessions through the assistantd HTTP API:
simple sessions, pomodoro cycles, the live event stream, and webhook
subscriptions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("user required: set --user or ASSISTANT_USER")
		}
		client = newAPIClient(apiURL, userID)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultAPIURL(), "assistantd API URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", defaultUser(), "acting user ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(enableCmd, disableCmd, statusCmd, pomodoroCmd, eventsCmd, webhookCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
