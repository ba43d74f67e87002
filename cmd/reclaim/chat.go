package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	reclaim "github.com/reclaimhq/reclaim-go"
)

var chatImageURL string

func init() {
	chatSendCmd.Flags().StringVar(&chatImageURL, "image", "", "attach an image by URL")
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatThreadsCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatOpenCmd)
	chatCmd.AddCommand(chatSendCmd)
}

// chatCache restores the session and returns a thread cache.
func chatCache(ctx context.Context) (*reclaim.ChatThreadCache, error) {
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
	return reclaim.NewChatThreadCache(client), nil
}

func senderLabel(m reclaim.Message) string {
	if m.System || m.SenderID == nil {
		return "[system]"
	}
	return *m.SenderID
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat about potential matches",
}

var chatThreadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List your chat threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cache, err := chatCache(ctx)
		if err != nil {
			return err
		}
		threads, err := cache.ListThreads(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
		if len(threads) == 0 {
			fmt.Println("No threads.")
			return nil
		}
		for _, t := range threads {
			var who []string
			for _, p := range t.Participants {
				who = append(who, p.Username)
			}
			line := fmt.Sprintf("%-12s post=%s  %s", t.ID, t.PostID, strings.Join(who, ", "))
			if t.LastMessage != nil {
				line += "  | " + t.LastMessage.Text
			}
			fmt.Println(line)
		}
		return nil
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history <thread-id>",
	Short: "Show the full message history of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cache, err := chatCache(ctx)
		if err != nil {
			return err
		}
		if err := cache.LoadThread(ctx, args[0]); err != nil {
			return fmt.Errorf("load thread: %w", err)
		}
		for _, m := range cache.Messages(args[0]) {
			fmt.Printf("%s  %-14s %s\n", m.CreatedAt, senderLabel(m), m.Text)
		}
		return nil
	},
}

var chatOpenCmd = &cobra.Command{
	Use:   "open <post-id>",
	Short: "Open (or create) the thread for a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cache, err := chatCache(ctx)
		if err != nil {
			return err
		}
		thread, err := cache.GetOrCreateThread(ctx, args[0])
		if err != nil {
			return fmt.Errorf("open thread: %w", err)
		}
		fmt.Printf("Thread %s (post %s)\n", thread.ID, thread.PostID)
		return nil
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <thread-id> <text>",
	Short: "Send a message to a thread",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cache, err := chatCache(ctx)
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		if err := cache.SendMessage(ctx, args[0], text, chatImageURL); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Println("Sent.")
		return nil
	},
}
