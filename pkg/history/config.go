package history

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Config configures the InfluxDB connection. An empty URL disables history.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// Enabled returns true if a URL is configured.
func (cfg Config) Enabled() bool {
	return cfg.URL != ""
}

// Validate returns an error if an enabled configuration is incomplete.
func (cfg Config) Validate() error {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return errors.New("influxdb-org and influxdb-bucket are required")
	}
	if cfg.BatchSize == 0 {
		return errors.New("influxdb-batch-size must be positive")
	}
	if cfg.FlushInterval < time.Millisecond {
		return errors.New("influxdb-flush-interval must be at least 1ms")
	}
	return nil
}

// Configured returns the history configuration from flags.
func Configured() *Config {
	var cfg Config
	url := lflag.String("influxdb-url", "", "InfluxDB URL (e.g. http://localhost:8086). Empty disables history")
	token := lflag.String("influxdb-token", "", "InfluxDB API token")
	org := lflag.String("influxdb-org", "", "InfluxDB organization")
	bucket := lflag.String("influxdb-bucket", "techbridge", "InfluxDB bucket")
	batch := lflag.String("influxdb-batch-size", "100", "Points per write batch")
	flush := lflag.Duration("influxdb-flush-interval", 10*time.Second, "Maximum time points are buffered")

	lflag.Do(func() {
		size, err := strconv.ParseUint(*batch, 10, 32)
		if err != nil {
			panic(fmt.Sprintf("invalid influxdb-batch-size: %v", err))
		}
		cfg = Config{
			URL:           *url,
			Token:         *token,
			Org:           *org,
			Bucket:        *bucket,
			BatchSize:     uint(size),
			FlushInterval: *flush,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("influxdb validation failed: %v", err))
		}
	})
	return &cfg
}
