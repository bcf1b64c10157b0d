package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type webhookSub struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Enabled    bool     `json:"enabled"`
	EventTypes []string `json:"event_types"`
}

var webhookCmd = &cobra.Command{
	Use:   "webhook <add|list|rm>",
	Short: "Manage webhook subscriptions for focus events",
}

var (
	webhookURL    string
	webhookEvents string
)

var webhookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Subscribe a URL to focus events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookURL == "" || webhookEvents == "" {
			return fmt.Errorf("--url and --events are required")
		}
		body := map[string]any{
			"url":         webhookURL,
			"event_types": strings.Split(webhookEvents, ","),
		}
		var sub webhookSub
		if err := client.do(cmd.Context(), "POST", "/v1/webhooks", body, &sub); err != nil {
			return err
		}
		fmt.Printf("Created webhook %s\n", sub.ID)
		return nil
	},
}

var webhookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var subs []webhookSub
		if err := client.do(cmd.Context(), "GET", "/v1/webhooks", nil, &subs); err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(subs)
		}
		if len(subs) == 0 {
			fmt.Println("No webhook subscriptions.")
			return nil
		}
		for _, sub := range subs {
			state := "enabled"
			if !sub.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  %s  [%s]  %s\n", sub.ID, state, strings.Join(sub.EventTypes, ","), sub.URL)
		}
		return nil
	},
}

var webhookRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.do(cmd.Context(), "DELETE", "/v1/webhooks/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("Removed webhook %s\n", args[0])
		return nil
	},
}

func init() {
	webhookAddCmd.Flags().StringVar(&webhookURL, "url", "", "destination URL")
	webhookAddCmd.Flags().StringVar(&webhookEvents, "events", "", "comma-separated event types")
	webhookCmd.AddCommand(webhookAddCmd, webhookListCmd, webhookRmCmd)
}
