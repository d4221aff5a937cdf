package coordinator

import (
	"errors"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Config holds the flag-configured coordinator settings.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Validate returns an error if the settings cannot drive a coordinator.
func (cfg Config) Validate() error {
	if cfg.Interval <= 0 {
		return errors.New("coordinator-interval must be positive")
	}
	if cfg.Timeout <= 0 {
		return errors.New("coordinator-timeout must be positive")
	}
	return nil
}

// Options returns the options to pass to New.
func (cfg Config) Options() []Option {
	return []Option{WithInterval(cfg.Interval), WithTimeout(cfg.Timeout)}
}

// Configured returns the coordinator settings from flags.
func Configured() *Config {
	var cfg Config
	interval := lflag.Duration("coordinator-interval", DefaultInterval, "How often subscribed modules are refreshed")
	timeout := lflag.Duration("coordinator-timeout", DefaultTimeout, "Timeout for a single module refresh")

	lflag.Do(func() {
		cfg.Interval = *interval
		cfg.Timeout = *timeout
		if err := cfg.Validate(); err != nil {
			panic(err.Error())
		}
	})
	return &cfg
}
