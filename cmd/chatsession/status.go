package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Prismer-AI/chatsession"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and credential status",
	Long:  "Display the current configuration and check whether the stored credential has expired.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()
		if path, err := configPath(); err == nil {
			fmt.Fprintf(out, "Config: %s\n\n", path)
		}

		fmt.Fprintln(out, "Server:")
		fmt.Fprintf(out, "  URL:        %s\n", valueOrDefault(cfg.Server.URL, "(not set)"))
		fmt.Fprintf(out, "  Transport:  %s\n", valueOrDefault(cfg.Server.Transport, "nhooyr"))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		fmt.Fprintf(out, "  Token:      %s\n", tokenStatus(cfg.Auth.Token, time.Now()))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Session:")
		fmt.Fprintf(out, "  Connect timeout:    %s\n", valueOrDefault(cfg.Session.ConnectTimeout, chatsession.DefaultConnectTimeout.String()))
		fmt.Fprintf(out, "  Heartbeat interval: %s\n", valueOrDefault(cfg.Session.HeartbeatInterval, chatsession.DefaultHeartbeatInterval.String()))
		fmt.Fprintf(out, "  Ack timeout:        %s\n", valueOrDefault(cfg.Session.AckTimeout, chatsession.DefaultAckTimeout.String()))
		fmt.Fprintf(out, "  Typing expiry:      %s\n", valueOrDefault(cfg.Session.TypingExpiry, chatsession.DefaultTypingExpiry.String()))
		fmt.Fprintf(out, "  Reconnect attempts: %s\n", attemptLimit(cfg.Session.MaxReconnectAttempts))
		fmt.Fprintf(out, "  Delivery receipts:  %t\n", cfg.Session.AutoDeliveryReceipts)
		return nil
	},
}

// tokenStatus describes a credential without revealing it.
func tokenStatus(token string, now time.Time) string {
	if token == "" {
		return "none"
	}
	exp, ok := chatsession.TokenExpiry(token)
	if !ok {
		return fmt.Sprintf("%s (opaque, no expiry)", maskToken(token))
	}
	if now.Before(exp) {
		return fmt.Sprintf("%s valid (expires %s)", maskToken(token), exp.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s EXPIRED (expired %s)", maskToken(token), exp.Format(time.RFC3339))
}

func attemptLimit(n int) string {
	switch {
	case n < 0:
		return "unlimited"
	case n == 0:
		return strconv.Itoa(chatsession.DefaultMaxReconnectAttempts)
	default:
		return strconv.Itoa(n)
	}
}
