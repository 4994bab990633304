package session

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"syncrelay/internal/constants"
)

// Options tunes a Registry.
type Options struct {
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	MinSessionTimeout time.Duration `mapstructure:"min_session_timeout"`
	MaxSessionTimeout time.Duration `mapstructure:"max_session_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	EmptyGrace        time.Duration `mapstructure:"empty_grace"`
	MaxParticipants   int           `mapstructure:"max_participants"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

func DefaultOptions() Options {
	return Options{
		SessionTimeout:    constants.SessionDuration,
		MinSessionTimeout: constants.MinSessionDuration,
		MaxSessionTimeout: constants.MaxSessionDuration,
		PingInterval:      constants.PingInterval,
		CleanupInterval:   constants.CleanupInterval,
		EmptyGrace:        constants.EmptySessionGrace,
		MaxParticipants:   constants.MaxParticipants,
		RateLimit:         constants.DefaultRateLimit,
		RateBurst:         constants.DefaultRateBurst,
		SendBuffer:        constants.SendBufferSize,
	}
}

func (o Options) Validate() error {
	if o.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", o.SessionTimeout)
	}
	if o.MaxSessionTimeout > 0 && o.MinSessionTimeout > o.MaxSessionTimeout {
		return fmt.Errorf("min session timeout %s exceeds max %s", o.MinSessionTimeout, o.MaxSessionTimeout)
	}
	if o.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", o.CleanupInterval)
	}
	if o.MaxParticipants < 1 {
		return fmt.Errorf("max participants must be at least 1, got %d", o.MaxParticipants)
	}
	if o.RateLimit < 0 || o.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	return nil
}

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithMetrics reports registry activity to m.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// CreateOptions describes a session created through the API.
type CreateOptions struct {
	ID       string
	TTL      time.Duration
	Metadata map[string]any
}
