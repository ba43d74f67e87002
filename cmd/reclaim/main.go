package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	reclaim "github.com/reclaimhq/reclaim-go"
)

// ============================================================================
// Config file
// ============================================================================

// cliConfig is the on-disk CLI state at ~/.reclaim/config.toml. The [auth]
// table doubles as the credential store, so this file is the only place a
// session outlives the process.
type cliConfig struct {
	API struct {
		BaseURL string `toml:"base_url"`
	} `toml:"api"`
	Auth struct {
		Token string `toml:"token"`
	} `toml:"auth"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".reclaim", "config.toml"), nil
}

// readConfig parses the config file; a missing file yields an empty config.
func readConfig() (*cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// write persists the config, creating ~/.reclaim on first use. User-only
// permissions throughout: the file carries the session credential.
func (c *cliConfig) write() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// fileTokenStore satisfies reclaim.TokenStore on top of the [auth] table.
type fileTokenStore struct{}

func (fileTokenStore) Load() (string, error) {
	cfg, err := readConfig()
	if err != nil {
		return "", err
	}
	return cfg.Auth.Token, nil
}

func (fileTokenStore) Save(token string) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}
	cfg.Auth.Token = token
	return cfg.write()
}

func (fileTokenStore) Clear() error {
	return fileTokenStore{}.Save("")
}

// ============================================================================
// SDK wiring
// ============================================================================

// newClient builds an API client from the configured base URL.
func newClient() (*reclaim.Client, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run 'reclaim init <base-url>' first")
	}
	return reclaim.NewClient(reclaim.WithBaseURL(cfg.API.BaseURL)), nil
}

// newSession builds a client plus a session manager backed by the config
// file credential store.
func newSession() (*reclaim.Client, *reclaim.SessionManager, error) {
	client, err := newClient()
	if err != nil {
		return nil, nil, err
	}
	session := reclaim.NewSessionManager(client, fileTokenStore{})
	session.OnInvalidated(func(reason string) {
		fmt.Fprintf(os.Stderr, "session invalidated: %s\n", reason)
	})
	return client, session, nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Reclaim lost-and-found CLI",
	Long:  "Command-line interface for the Reclaim lost-and-found platform.\nManage your session, browse notifications, and chat about matches.",
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init <base-url>",
		Short: "Configure the API base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig()
			if err != nil {
				return err
			}
			cfg.API.BaseURL = strings.TrimRight(args[0], "/")
			if err := cfg.write(); err != nil {
				return err
			}
			fmt.Printf("Configured base URL: %s\n", cfg.API.BaseURL)
			return nil
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
