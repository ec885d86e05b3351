// Package mqtt publishes detection results and session status to an MQTT broker.
package mqtt

import (
	"time"

	"github.com/tphakala/hotword-go/internal/conf"
)

// Config holds the configuration for the MQTT publisher.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // results topic, status goes to Topic + "/status"
	Retain   bool   // retain result messages at the broker

	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds the publisher configuration from application settings.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Topic = s.Topic
	cfg.Retain = s.Retain
	return cfg
}

// StatusTopic is where session status changes are published.
func (c Config) StatusTopic() string {
	return c.Topic + "/status"
}
