package syncclient

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"syncrelay/internal/constants"
	"syncrelay/internal/transport"
)

// Config holds the recognized connection options.
type Config struct {
	URL                  string        `mapstructure:"url"`
	SessionID            string        `mapstructure:"session"`
	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	TransferTimeout      time.Duration `mapstructure:"transfer_timeout"`
	LegacyRoleMessages   bool          `mapstructure:"legacy_role_messages"`
	SkipTLSVerify        bool          `mapstructure:"skip_tls_verify"`
}

func DefaultConfig() Config {
	return Config{
		URL:                  constants.DefaultServerURL,
		AutoReconnect:        constants.DefaultAutoReconnect,
		MaxReconnectAttempts: constants.DefaultMaxReconnectAttempts,
		ReconnectDelay:       constants.DefaultReconnectDelay,
		ConnectionTimeout:    constants.DefaultConnectionTimeout,
		HandshakeTimeout:     constants.DefaultHandshakeTimeout,
		TransferTimeout:      constants.DefaultTransferTimeout,
	}
}

type Option func(*Client)

// WithClock replaces the wall clock used for timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}
