package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prismer-AI/chatsession"
)

// transportFor maps a transport name to its dialer. Empty means nhooyr.
func transportFor(name string) (chatsession.Dialer, error) {
	switch name {
	case "", "nhooyr":
		return &chatsession.WebSocketDialer{ReadLimit: chatsession.DefaultReadLimit}, nil
	case "gorilla":
		return &chatsession.GorillaDialer{HandshakeTimeout: chatsession.DefaultConnectTimeout, ReadLimit: chatsession.DefaultReadLimit}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: nhooyr, gorilla)", name)
	}
}

// sessionConfig turns the file configuration into a library Config.
func sessionConfig(cfg *Config) (chatsession.Config, error) {
	if cfg.Server.URL == "" {
		return chatsession.Config{}, fmt.Errorf("no server URL. Run 'chatsession config set server.url <ws-url>' first")
	}
	out := chatsession.Config{
		URL:                  cfg.Server.URL,
		Token:                cfg.Auth.Token,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		AutoDeliveryReceipts: cfg.Session.AutoDeliveryReceipts,
		Logger:               slog.Default(),
	}
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"connect_timeout", cfg.Session.ConnectTimeout, &out.ConnectTimeout},
		{"heartbeat_interval", cfg.Session.HeartbeatInterval, &out.HeartbeatInterval},
		{"ack_timeout", cfg.Session.AckTimeout, &out.AckTimeout},
		{"typing_expiry", cfg.Session.TypingExpiry, &out.TypingExpiry},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return chatsession.Config{}, fmt.Errorf("session.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return out, nil
}

// newSession loads the configuration and creates a disconnected session.
func newSession() (*chatsession.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	sc, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.Server.Transport
	if transport != "" {
		name = transport
	}
	dialer, err := transportFor(name)
	if err != nil {
		return nil, err
	}

	return chatsession.New(sc, chatsession.WithDialer(dialer))
}

// openSession creates a session and connects it.
func openSession(ctx context.Context) (*chatsession.Session, error) {
	s, err := newSession()
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx, ""); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

// maskToken shows the first 8 and last 4 characters of a credential.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
