package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginAdmin bool

func init() {
	loginCmd.Flags().BoolVar(&loginAdmin, "admin", false, "authenticate with administrative capability")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func promptCredentials() (string, string, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("read password: %w", err)
	}
	return username, string(passBytes), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store the session credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, session, err := newSession()
		if err != nil {
			return err
		}

		username, password, err := promptCredentials()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if loginAdmin {
			err = session.AdminLogin(ctx, username, password)
		} else {
			err = session.Login(ctx, username, password)
		}
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		current := session.Current()
		fmt.Printf("Logged in as %s (expires %s)\n",
			current.Username, current.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, session, err := newSession()
		if err != nil {
			return err
		}
		session.Logout()
		fmt.Println("Logged out.")
		return nil
	},
}
