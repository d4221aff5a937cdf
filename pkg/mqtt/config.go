package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// Config configures the broker connection. An empty Broker disables MQTT.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         int
	TopicPrefix string
}

// Enabled returns true if a broker is configured.
func (cfg Config) Enabled() bool {
	return cfg.Broker != ""
}

// Validate returns an error if the configuration cannot be used.
func (cfg Config) Validate() error {
	if !cfg.Enabled() {
		return nil
	}
	if !strings.Contains(cfg.Broker, "://") {
		return fmt.Errorf("mqtt-broker must be a URL like tcp://host:1883, got %q", cfg.Broker)
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return ErrInvalidQoS
	}
	if strings.ContainsAny(cfg.TopicPrefix, "+#") {
		return errors.New("mqtt-topic-prefix cannot contain wildcards")
	}
	return nil
}

// Configured returns the MQTT configuration from flags.
func Configured() *Config {
	var cfg Config
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883). Empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "", "MQTT client id (default random)")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	qos := lflag.String("mqtt-qos", "1", "MQTT QoS for published states (0, 1 or 2)")
	prefix := lflag.String("mqtt-topic-prefix", DefaultTopicPrefix, "Prefix of every MQTT topic")

	lflag.Do(func() {
		q, err := strconv.Atoi(*qos)
		if err != nil {
			panic(fmt.Sprintf("invalid mqtt-qos: %v", err))
		}
		cfg = Config{
			Broker:      *broker,
			ClientID:    *clientID,
			Username:    *username,
			Password:    *password,
			QoS:         q,
			TopicPrefix: *prefix,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("mqtt validation failed: %v", err))
		}
	})
	return &cfg
}
