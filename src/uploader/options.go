package uploader

import (
	"time"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
)

// Config holds the engine settings
type Config struct {
	// ItemRequestTimeout bounds each wait for the vehicle's next item request
	ItemRequestTimeout time.Duration
	// AckTimeout bounds the wait for the final MISSION_ACK
	AckTimeout time.Duration
	// ClearAckTimeout bounds the wait for the ack of MISSION_CLEAR_ALL.
	// Zero sends the clear without waiting.
	ClearAckTimeout time.Duration
	// CountRetries is how often MISSION_COUNT is resent while no item has been
	// requested yet
	CountRetries int

	ProgressCallback ProgressCallback
	Logger           inter.Logger
}

func defaultConfig() Config {
	return Config{
		ItemRequestTimeout: 5 * time.Second,
		AckTimeout:         5 * time.Second,
		ClearAckTimeout:    time.Second,
		Logger:             logging.Nop(),
	}
}

// Option configures an Uploader
type Option func(*Config)

func WithItemRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ItemRequestTimeout = d
		}
	}
}

func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithClearAckTimeout sets the wait after MISSION_CLEAR_ALL; zero disables it
func WithClearAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ClearAckTimeout = d
		}
	}
}

func WithCountRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.CountRetries = n
		}
	}
}

// WithProgressCallback reports every transition and every item sent
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}

func WithLogger(l inter.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
