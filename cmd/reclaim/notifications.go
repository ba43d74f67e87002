package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	reclaim "github.com/reclaimhq/reclaim-go"
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
	notificationsCmd.AddCommand(notificationsDeleteCmd)
}

// notificationStream restores the session and returns an initialized
// stream.
func notificationStream(ctx context.Context) (*reclaim.NotificationStream, error) {
	client, session, err := newSession()
	if err != nil {
		return nil, err
	}
	if err := session.RestoreSession(ctx); err != nil {
		return nil, err
	}
	if !session.IsAuthenticated() {
		return nil, fmt.Errorf("not logged in; run 'reclaim login' first")
	}
	stream := reclaim.NewNotificationStream(client)
	if err := stream.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	return stream, nil
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Manage notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stream, err := notificationStream(ctx)
		if err != nil {
			return err
		}

		list := stream.List()
		if len(list) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		fmt.Printf("%d notifications, %d unread\n\n", len(list), stream.Unread())
		for _, n := range list {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %-12s %-10s %s  %s\n", marker, n.ID, n.Type, n.CreatedAt, n.Content)
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stream, err := notificationStream(ctx)
		if err != nil {
			return err
		}
		if err := stream.MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		fmt.Println("Marked read.")
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark all notifications as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stream, err := notificationStream(ctx)
		if err != nil {
			return err
		}
		if err := stream.MarkAllRead(ctx); err != nil {
			return fmt.Errorf("mark all read: %w", err)
		}
		fmt.Println("All notifications marked read.")
		return nil
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stream, err := notificationStream(ctx)
		if err != nil {
			return err
		}
		if err := stream.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		fmt.Println("Deleted.")
		return nil
	},
}
