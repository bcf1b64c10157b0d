package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the live focus event stream",
	Long: `Connect to the SSE event stream and print focus lifecycle events as
they happen. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := client.stream(cmd.Context(), "/v1/focus/events")
		if err != nil {
			return err
		}
		defer body.Close()

		fmt.Printf("Listening for focus events (user %s)...\n", userID)
		scanner := bufio.NewScanner(body)
		var eventType string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if jsonOutput {
					fmt.Println(strings.TrimPrefix(line, "data: "))
				} else {
					fmt.Printf("%s  %s\n", eventType, strings.TrimPrefix(line, "data: "))
				}
			}
		}
		if err := scanner.Err(); err != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("stream closed: %w", err)
		}
		return nil
	},
}
