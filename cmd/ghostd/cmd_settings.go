package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/ghostd/internal/settings"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

// settingsCmd is the popup/options surface in CLI form: it reads and writes
// the running daemon's user settings over its HTTP API so changes reach
// subscribers immediately.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage user settings on the running daemon",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		resp, err := http.Get("http://" + cfg.Listen + "/api/settings")
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s: %w", cfg.Listen, err)
		}
		defer resp.Body.Close()

		var current settings.Settings
		if err := json.NewDecoder(resp.Body).Decode(&current); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}

		fmt.Fprintf(os.Stdout, "enabled = %v\n", current.Enabled)
		fmt.Fprintf(os.Stdout, "show_overlay_affordance = %v\n", current.ShowOverlayAffordance)
		fmt.Fprintf(os.Stdout, "provider = %s\n", current.Provider)
		fmt.Fprintf(os.Stdout, "model = %s\n", current.Model)
		if current.APIKey != "" {
			fmt.Fprintln(os.Stdout, "api_key = ***")
		} else {
			fmt.Fprintln(os.Stdout, "api_key =")
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting (enabled, show_overlay_affordance, provider, model, api_key)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		update, err := buildUpdate(args[0], args[1])
		if err != nil {
			return err
		}
		body, err := json.Marshal(update)
		if err != nil {
			return fmt.Errorf("marshal update: %w", err)
		}

		req, err := http.NewRequest(http.MethodPut,
			"http://"+cfg.Listen+"/api/settings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s: %w", cfg.Listen, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(msg))
		}

		display := args[1]
		if args[0] == "api_key" {
			display = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		return nil
	},
}

func buildUpdate(key, value string) (settings.Update, error) {
	var update settings.Update
	switch key {
	case "enabled", "show_overlay_affordance":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return update, fmt.Errorf("%s wants true or false, got %q", key, value)
		}
		if key == "enabled" {
			update.Enabled = &b
		} else {
			update.ShowOverlayAffordance = &b
		}
	case "provider":
		update.Provider = &value
	case "model":
		update.Model = &value
	case "api_key":
		update.APIKey = &value
	default:
		return update, fmt.Errorf("unknown setting: %s", key)
	}
	return update, nil
}
