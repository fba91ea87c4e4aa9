package main

import (
	"context"
	"fmt"
	"time"

	learnly "github.com/Learnly-EDU/Learnly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and feed status",
	Long:  "Display the current configuration and fetch the live unread count.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:       %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:       (not set)")
		}
		fmt.Printf("  Subject ID:  %s\n", valueOrDefault(cfg.Auth.SubjectID, "(not set)"))
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username:    %s\n", cfg.Auth.Username)
		}

		// If we have a token, try a live fetch.
		if cfg.Auth.Token != "" {
			fmt.Println()
			fmt.Println("Live status:")

			client := learnly.NewClient(cfg.Auth.Token, clientOptions(cfg)...)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			page, err := client.Notifications().List(ctx, 1, nil)
			if err != nil {
				fmt.Printf("  Error fetching notifications: %v\n", err)
				return nil
			}

			unread := 0
			for _, n := range page.Results {
				if !n.Read {
					unread++
				}
			}
			fmt.Printf("  Notifications: %d\n", page.Count)
			fmt.Printf("  Unread (page 1): %d\n", unread)
		}

		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "..."
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
