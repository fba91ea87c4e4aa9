package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	learnly "github.com/Learnly-EDU/Learnly/sdk/golang"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var watchVerbose bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "log connection events")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail live notifications",
	Long:  "Connect to the push channel and print notifications as they arrive.\nPress Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		subjectID := requireSubjectID(cfg)

		log := zerolog.Nop()
		if watchVerbose {
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(zerolog.DebugLevel).With().Timestamp().Logger()
		}

		client := getClient()
		rt := client.Realtime(&learnly.RealtimeConfig{Token: cfg.Auth.Token})
		rt.SetCallbacks(learnly.Callbacks{
			OnConnect: func() {
				fmt.Printf("Connected as subject %s, waiting for notifications...\n", subjectID)
			},
			OnDisconnect: func(code int, reason string) {
				if code != learnly.CloseNormal {
					fmt.Printf("Disconnected (code %d): %s\n", code, reason)
				}
			},
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "Channel error: %v\n", err)
			},
			OnReconnecting: func(attempt int, delay time.Duration) {
				fmt.Printf("Reconnecting in %s (attempt %d)...\n", delay, attempt)
			},
		})

		prefs := learnly.NewPreferenceStore(client.Notifications(), log)
		feed := learnly.NewFeedStore(client, rt, prefs, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed.Setup(ctx, learnly.Identity(subjectID))
		defer feed.Teardown()

		if unread := feed.UnreadCount(); unread > 0 {
			fmt.Printf("%d unread notification(s)\n", unread)
		}

		seen := make(map[int64]bool)
		for _, n := range feed.Notifications() {
			seen[n.ID] = true
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-sig:
				fmt.Println("\nStopping...")
				return nil
			case <-ticker.C:
				for _, n := range feed.Notifications() {
					if seen[n.ID] {
						continue
					}
					seen[n.ID] = true
					fmt.Printf("[%s] %s: %s\n", n.Type, n.Title, n.Message)
				}
				if feed.Status() == learnly.StateFallback {
					fmt.Fprintln(os.Stderr, "Push channel unavailable, live tail stopped. Use 'learnly notifications list' instead.")
					return nil
				}
			}
		}
	},
}
