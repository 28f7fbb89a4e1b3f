package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(triggerCmd)
}

// triggerCmd is what a global keyboard shortcut binds to: it asks the daemon
// to poll the focused page context for its current selection.
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the focused page context to check its current selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		resp, err := http.Post("http://"+cfg.Listen+"/trigger", "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s: %w", cfg.Listen, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		fmt.Fprintln(os.Stdout, "Trigger sent.")
		return nil
	},
}
