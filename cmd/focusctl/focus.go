package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// session mirrors the API's session read model.
type session struct {
	State     string     `json:"state"`
	StartedAt *time.Time `json:"started_at"`
	EndsAt    *time.Time `json:"ends_at"`
	Message   string     `json:"message"`
	Pomodoro  *struct {
		SessionCount  int `json:"session_count"`
		TotalSessions int `json:"total_sessions"`
		WorkMinutes   int `json:"work_minutes"`
		BreakMinutes  int `json:"break_minutes"`
	} `json:"pomodoro"`
}

func printSession(sess *session) {
	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(sess)
		return
	}
	fmt.Printf("State: %s\n", sess.State)
	if sess.Message != "" {
		fmt.Printf("Message: %s\n", sess.Message)
	}
	if sess.EndsAt != nil {
		fmt.Printf("Ends: %s (in %s)\n",
			sess.EndsAt.Local().Format(time.Kitchen),
			time.Until(*sess.EndsAt).Round(time.Second))
	}
	if p := sess.Pomodoro; p != nil {
		if p.TotalSessions > 0 {
			fmt.Printf("Pomodoro: session %d of %d (%dm work / %dm break)\n",
				p.SessionCount, p.TotalSessions, p.WorkMinutes, p.BreakMinutes)
		} else {
			fmt.Printf("Pomodoro: session %d (%dm work / %dm break)\n",
				p.SessionCount, p.WorkMinutes, p.BreakMinutes)
		}
	}
}

var (
	enableDuration int
	enableMessage  string
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start a simple focus session",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if enableDuration > 0 {
			body["duration_minutes"] = enableDuration
		}
		if enableMessage != "" {
			body["message"] = enableMessage
		}
		var sess session
		if err := client.do(cmd.Context(), "POST", "/v1/focus/enable", body, &sess); err != nil {
			return err
		}
		printSession(&sess)
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "End the current focus session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess session
		if err := client.do(cmd.Context(), "POST", "/v1/focus/disable", nil, &sess); err != nil {
			return err
		}
		fmt.Println("Focus session ended.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current focus session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess session
		if err := client.do(cmd.Context(), "GET", "/v1/focus/status", nil, &sess); err != nil {
			return err
		}
		printSession(&sess)
		return nil
	},
}

var (
	pomodoroWork    int
	pomodoroBreak   int
	pomodoroTotal   int
	pomodoroMessage string
)

var pomodoroCmd = &cobra.Command{
	Use:   "pomodoro <start|skip>",
	Short: "Drive a pomodoro session",
}

var pomodoroStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pomodoro session",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"work_minutes":   pomodoroWork,
			"break_minutes":  pomodoroBreak,
			"total_sessions": pomodoroTotal,
		}
		if pomodoroMessage != "" {
			body["message"] = pomodoroMessage
		}
		var sess session
		if err := client.do(cmd.Context(), "POST", "/v1/focus/pomodoro/start", body, &sess); err != nil {
			return err
		}
		printSession(&sess)
		return nil
	},
}

var pomodoroSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip to the next pomodoro phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess session
		if err := client.do(cmd.Context(), "POST", "/v1/focus/pomodoro/skip", nil, &sess); err != nil {
			return err
		}
		printSession(&sess)
		return nil
	},
}

func init() {
	enableCmd.Flags().IntVar(&enableDuration, "duration", 0, "session length in minutes (0 = until disabled)")
	enableCmd.Flags().StringVar(&enableMessage, "message", "", "auto-reply message for the session")

	pomodoroStartCmd.Flags().IntVar(&pomodoroWork, "work", 0, "work phase minutes (0 = your default)")
	pomodoroStartCmd.Flags().IntVar(&pomodoroBreak, "break", 0, "break phase minutes (0 = your default)")
	pomodoroStartCmd.Flags().IntVar(&pomodoroTotal, "total", 0, "number of work sessions (0 = until disabled)")
	pomodoroStartCmd.Flags().StringVar(&pomodoroMessage, "message", "", "auto-reply message for the session")
	pomodoroCmd.AddCommand(pomodoroStartCmd, pomodoroSkipCmd)
}
