package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config file
// ============================================================================

// Config is the CLI configuration, stored as TOML in ~/.chatsession/config.toml
// unless CHATSESSION_CONFIG names another file.
type Config struct {
	Server  ConfigServer  `toml:"server"`
	Auth    ConfigAuth    `toml:"auth"`
	Session ConfigSession `toml:"session"`
}

type ConfigServer struct {
	URL       string `toml:"url"`
	Transport string `toml:"transport,omitempty"`
}

type ConfigAuth struct {
	Token string `toml:"token,omitempty"`
}

// ConfigSession holds session tuning. Durations are Go duration strings
// ("5s", "1m30s"); empty values use the library defaults.
type ConfigSession struct {
	ConnectTimeout       string `toml:"connect_timeout,omitempty"`
	HeartbeatInterval    string `toml:"heartbeat_interval,omitempty"`
	AckTimeout           string `toml:"ack_timeout,omitempty"`
	TypingExpiry         string `toml:"typing_expiry,omitempty"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts,omitempty"`
	AutoDeliveryReceipts bool   `toml:"auto_delivery_receipts,omitempty"`
}

const configEnv = "CHATSESSION_CONFIG"

// configPath resolves the config file location.
func configPath() (string, error) {
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatsession", "config.toml"), nil
}

// loadConfig parses the config file. A missing file is an empty Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// saveConfig replaces the config file atomically. The file holds a bearer
// credential, so it is private to the user.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ============================================================================
// Dot-notation keys
// ============================================================================

// configKeys lists every settable key.
var configKeys = []string{
	"server.url",
	"server.transport",
	"auth.token",
	"session.connect_timeout",
	"session.heartbeat_interval",
	"session.ack_timeout",
	"session.typing_expiry",
	"session.max_reconnect_attempts",
	"session.auto_delivery_receipts",
}

// setConfigValue sets a field by key (e.g. "server.url"). An empty value
// resets the field to its default.
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key %q must be section.field, one of: %s", key, strings.Join(configKeys, ", "))
	}

	switch section {
	case "server":
		switch field {
		case "url":
			if value != "" && !strings.HasPrefix(value, "ws://") && !strings.HasPrefix(value, "wss://") {
				return fmt.Errorf("server.url must start with ws:// or wss://")
			}
			cfg.Server.URL = value
			return nil
		case "transport":
			if _, err := transportFor(value); err != nil {
				return err
			}
			cfg.Server.Transport = value
			return nil
		}
	case "auth":
		if field == "token" {
			cfg.Auth.Token = value
			return nil
		}
	case "session":
		return setSessionValue(&cfg.Session, field, value)
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth, session)", section)
	}
	return fmt.Errorf("unknown field %q in section [%s]", field, section)
}

func setSessionValue(s *ConfigSession, field, value string) error {
	duration := func(dst *string) error {
		if value != "" {
			if d, err := time.ParseDuration(value); err != nil || d <= 0 {
				return fmt.Errorf("session.%s must be a positive duration such as 5s", field)
			}
		}
		*dst = value
		return nil
	}

	switch field {
	case "connect_timeout":
		return duration(&s.ConnectTimeout)
	case "heartbeat_interval":
		return duration(&s.HeartbeatInterval)
	case "ack_timeout":
		return duration(&s.AckTimeout)
	case "typing_expiry":
		return duration(&s.TypingExpiry)
	case "max_reconnect_attempts":
		if value == "" {
			s.MaxReconnectAttempts = 0
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("session.max_reconnect_attempts must be an integer (negative retries forever)")
		}
		s.MaxReconnectAttempts = n
	case "auto_delivery_receipts":
		if value == "" {
			s.AutoDeliveryReceipts = false
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("session.auto_delivery_receipts must be true or false")
		}
		s.AutoDeliveryReceipts = b
	default:
		return fmt.Errorf("unknown field %q in section [session]", field)
	}
	return nil
}

// ============================================================================
// Commands
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsession configuration",
	Long:  "View or modify the CLI configuration (~/.chatsession/config.toml, or $" + configEnv + ").",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration with the token masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Auth.Token != "" {
			shown.Auth.Token = maskToken(shown.Auth.Token)
		}
		data, err := toml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Example: chatsession config set server.url wss://chat.example.com/ws\n\n" +
		"Keys: " + strings.Join(configKeys, ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := updateConfig(key, value); err != nil {
			return err
		}
		if key == "auth.token" {
			value = maskToken(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := updateConfig(args[0], ""); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func updateConfig(key, value string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	return saveConfig(cfg)
}
