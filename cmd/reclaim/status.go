package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	reclaim "github.com/reclaimhq/reclaim-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session, err := newSession()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := session.RestoreSession(ctx); err != nil {
			return err
		}

		fmt.Printf("Endpoint: %s\n", client.BaseURL())
		if !session.IsAuthenticated() {
			fmt.Println("Session:  unauthenticated")
			return nil
		}

		current := session.Current()
		fmt.Println("Session:  authenticated")
		fmt.Printf("User:     %s (%s)\n", current.Username, current.UserID)
		if len(current.Roles) > 0 {
			fmt.Printf("Roles:    %s\n", strings.Join(current.Roles, ", "))
		}
		fmt.Printf("Expires:  %s\n", current.ExpiresAt.Format(time.RFC3339))

		// Live profile check; a stale-but-valid token still reports
		// authenticated above even if this call fails.
		res, err := client.Auth.Me(ctx)
		if err != nil {
			fmt.Printf("Profile:  unavailable (%v)\n", err)
			return nil
		}
		var user reclaim.User
		if res.OK && res.Decode(&user) == nil && user.DisplayName != "" {
			fmt.Printf("Profile:  %s\n", user.DisplayName)
		}
		return nil
	},
}
