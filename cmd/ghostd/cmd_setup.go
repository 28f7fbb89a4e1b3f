package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/ghostd/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("ghostd Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Listen address
		cfg.Listen = prompt(scanner, "Listen address", cfg.Listen)

		// 2. Fact-check service URL
		cfg.FactCheck.BaseURL = prompt(scanner, "Fact-check service URL", cfg.FactCheck.BaseURL)

		// 3. Fact-check API key (optional)
		cfg.FactCheck.APIKey = prompt(scanner, "Fact-check API key (optional)", cfg.FactCheck.APIKey)

		// 4. Sources per claim
		topKStr := prompt(scanner, "Sources per claim", strconv.Itoa(cfg.FactCheck.TopK))
		if n, err := strconv.Atoi(topKStr); err == nil && n > 0 {
			cfg.FactCheck.TopK = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
