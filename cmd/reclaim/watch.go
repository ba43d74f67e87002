package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	reclaim "github.com/reclaimhq/reclaim-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect the realtime layer and tail live events",
	Long:  "Keeps the authenticated realtime connection open and prints\nnotifications and chat messages as they are pushed. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session, err := newSession()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := session.RestoreSession(ctx); err != nil {
			cancel()
			return err
		}
		cancel()
		if !session.IsAuthenticated() {
			return fmt.Errorf("not logged in; run 'reclaim login' first")
		}

		conn := reclaim.NewConnectionManager(session, client, nil)

		done := make(chan struct{})

		conn.OnConnected(func() {
			fmt.Println("connected")
		})
		conn.OnDisconnected(func(reason string) {
			fmt.Printf("disconnected: %s\n", reason)
		})
		conn.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("reconnecting (attempt %d) in %s\n", attempt, delay)
		})
		conn.OnAuthRejected(func(reason string) {
			// Distinct from a plain network error: the credential itself
			// was refused and the session has been invalidated.
			fmt.Fprintf(os.Stderr, "authentication rejected: %s\n", reason)
			close(done)
		})
		conn.OnNotification(func(n reclaim.Notification) {
			fmt.Printf("notification %-10s %s\n", n.Type, n.Content)
		})
		conn.OnMessage(func(m reclaim.Message) {
			sender := "[system]"
			if m.SenderID != nil {
				sender = *m.SenderID
			}
			fmt.Printf("message thread=%s %s: %s\n", m.ThreadID, sender, m.Text)
		})

		if err := conn.Connect(context.Background()); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer conn.Disconnect()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
		case <-done:
		}
		return nil
	},
}
