package chatsession

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// Config configures a Session. Zero values take the defaults below.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Token is the initial bearer credential. Connect may replace it.
	Token string

	ConnectTimeout time.Duration

	HeartbeatInterval time.Duration
	// HeartbeatTimeout defaults to twice HeartbeatInterval.
	HeartbeatTimeout time.Duration

	DisableAutoReconnect bool
	// MaxReconnectAttempts bounds consecutive failed reconnects. Zero takes
	// the default; a negative value retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	// ReconnectJitter is the randomization factor applied to each delay.
	// Zero takes the default; a negative value disables jitter.
	ReconnectJitter float64

	AckTimeout      time.Duration
	MaxSendAttempts int

	ReceiptBufferWindow time.Duration
	TypingExpiry        time.Duration

	// AutoDeliveryReceipts sends MessageDelivered for every admitted
	// inbound message.
	AutoDeliveryReceipts bool

	WriteTimeout time.Duration
	ReadLimit    int64

	Header     http.Header
	HTTPClient *http.Client
	Logger     *slog.Logger
}

const (
	DefaultConnectTimeout       = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectJitter      = 0.2
	DefaultMaxReconnectAttempts = 5
	DefaultAckTimeout           = 5 * time.Second
	DefaultMaxSendAttempts      = 3
	DefaultReceiptBufferWindow  = 10 * time.Second
	DefaultTypingExpiry         = 3 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
)

func (c *Config) defaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 2 * c.HeartbeatInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = DefaultReconnectJitter
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MaxSendAttempts == 0 {
		c.MaxSendAttempts = DefaultMaxSendAttempts
	}
	if c.ReceiptBufferWindow == 0 {
		c.ReceiptBufferWindow = DefaultReceiptBufferWindow
	}
	if c.TypingExpiry == 0 {
		c.TypingExpiry = DefaultTypingExpiry
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("chatsession: URL is required")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("chatsession: reconnect max delay %s is below base delay %s",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.ReconnectJitter >= 1 {
		return fmt.Errorf("chatsession: reconnect jitter must be below 1, got %v", c.ReconnectJitter)
	}
	if c.MaxSendAttempts < 0 {
		return fmt.Errorf("chatsession: max send attempts must not be negative")
	}
	return nil
}

// ============================================================================
// Options
// ============================================================================

// Option customises a Session beyond its Config.
type Option func(*Session)

// WithDialer replaces the default nhooyr websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger overrides Config.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.cfg.Logger = l }
}

// WithRefresher installs the credential refresher used on token_expired
// and on rejected handshakes.
func WithRefresher(r CredentialRefresher) Option {
	return func(s *Session) { s.refresher = r }
}

// WithHeader adds a header to every handshake request.
func WithHeader(key, value string) Option {
	return func(s *Session) {
		if s.cfg.Header == nil {
			s.cfg.Header = http.Header{}
		}
		s.cfg.Header.Add(key, value)
	}
}
