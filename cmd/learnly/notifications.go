package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	learnly "github.com/Learnly-EDU/Learnly/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	listPage     int
	listPageSize int
	listType     string
	listUnread   bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsMarkReadCmd)
	notificationsCmd.AddCommand(notificationsMarkAllReadCmd)

	notificationsListCmd.Flags().IntVar(&listPage, "page", 1, "page to fetch")
	notificationsListCmd.Flags().IntVar(&listPageSize, "page-size", 20, "notifications per page")
	notificationsListCmd.Flags().StringVar(&listType, "type", "", "filter by notification type")
	notificationsListCmd.Flags().BoolVar(&listUnread, "unread", false, "only show unread notifications")

	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "Browse and manage the notification feed",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		opts := &learnly.ListOptions{
			PageSize: listPageSize,
			Type:     listType,
		}
		if listUnread {
			unread := false
			opts.Read = &unread
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.Notifications().List(ctx, listPage, opts)
		if err != nil {
			return err
		}

		if len(page.Results) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		for _, n := range page.Results {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %6d  %-16s  %s\n", marker, n.ID, n.Type, n.Title)
			if n.Message != "" {
				fmt.Printf("           %s\n", n.Message)
			}
		}
		if page.Paginated {
			fmt.Printf("\nPage %d, %d total", listPage, page.Count)
			if page.HasMore {
				fmt.Print(" (more available)")
			}
			fmt.Println()
		}
		return nil
	},
}

var notificationsMarkReadCmd = &cobra.Command{
	Use:   "mark-read <id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid notification id %q", args[0])
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Notifications().MarkRead(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Notification %d marked as read\n", id)
		return nil
	},
}

var notificationsMarkAllReadCmd = &cobra.Command{
	Use:   "mark-all-read",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Notifications().MarkAllRead(ctx); err != nil {
			return err
		}
		fmt.Println("All notifications marked as read")
		return nil
	},
}

// ============================================================================
// Preferences
// ============================================================================

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage notification preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current notification preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		prefs, err := client.Notifications().GetPreferences(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Email:")
		fmt.Printf("  live_class:      %v\n", prefs.EmailLiveClass)
		fmt.Printf("  course_update:   %v\n", prefs.EmailCourseUpdate)
		fmt.Printf("  private_message: %v\n", prefs.EmailPrivateMessage)
		fmt.Printf("  grade_update:    %v\n", prefs.EmailGradeUpdate)
		fmt.Println("In-app:")
		fmt.Printf("  live_class:      %v\n", prefs.AppLiveClass)
		fmt.Printf("  course_update:   %v\n", prefs.AppCourseUpdate)
		fmt.Printf("  private_message: %v\n", prefs.AppPrivateMessage)
		fmt.Printf("  grade_update:    %v\n", prefs.AppGradeUpdate)
		fmt.Printf("Digest: %s\n", prefs.Digest)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <channel.type> <on|off>",
	Short: "Toggle one preference",
	Long:  "Toggle one notification preference.\nExample: learnly prefs set app.course_update off",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := args[1] == "on" || args[1] == "true"
		if !enabled && args[1] != "off" && args[1] != "false" {
			return fmt.Errorf("value must be on or off, got %q", args[1])
		}

		var change learnly.PreferenceUpdate
		switch args[0] {
		case "email.live_class":
			change.EmailLiveClass = &enabled
		case "email.course_update":
			change.EmailCourseUpdate = &enabled
		case "email.private_message":
			change.EmailPrivateMessage = &enabled
		case "email.grade_update":
			change.EmailGradeUpdate = &enabled
		case "app.live_class":
			change.AppLiveClass = &enabled
		case "app.course_update":
			change.AppCourseUpdate = &enabled
		case "app.private_message":
			change.AppPrivateMessage = &enabled
		case "app.grade_update":
			change.AppGradeUpdate = &enabled
		default:
			return fmt.Errorf("unknown preference %q (use channel.type, e.g. app.course_update)", args[0])
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := client.Notifications().UpdatePreferences(ctx, &change); err != nil {
			return err
		}
		fmt.Printf("Set %s = %s\n", args[0], args[1])
		return nil
	},
}
