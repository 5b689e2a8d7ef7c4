package mqtt

import (
	"strings"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
)

const (
	defaultBroker      = "tcp://localhost:1883"
	defaultClientID    = "vawtctl"
	defaultTopicPrefix = "vawtctl"
	defaultSampleEvery = 10
	connectTimeout     = 10 * time.Second
	disconnectQuiesce  = 250 // ms
)

type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	// SampleEvery publishes one sample out of every n ticks.
	SampleEvery int `mapstructure:"sample_every"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Broker:      defaultBroker,
		ClientID:    defaultClientID,
		TopicPrefix: defaultTopicPrefix,
		QoS:         1,
		SampleEvery: defaultSampleEvery,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "mqtt broker is required")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "qos",
			Value: c.QoS,
		})
	}
	if c.SampleEvery < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "sample_every",
			Value: c.SampleEvery,
		})
	}
	return nil
}

// Topic joins a suffix onto the configured prefix.
func (c Config) Topic(suffix string) string {
	prefix := strings.TrimSuffix(c.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}
