// Package config loads the gateway's settings from a YAML file with
// GATEWAY_* environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBrokerHostname = "localhost"
	DefaultBrokerPort     = 8001
	DefaultListenAddr     = ":8080"
)

// Settings is the full configuration surface consumed by the gateway.
type Settings struct {
	Server struct {
		ListenAddr string `mapstructure:"listen_addr"`
		LogLevel   string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Broker struct {
		Hostname    string `mapstructure:"hostname"`
		Port        int    `mapstructure:"port"`
		AccessKey   int64  `mapstructure:"access_key"`
		AccessToken string `mapstructure:"access_token"`
	} `mapstructure:"broker"`

	// Proto locates the schema files the method registry is built from.
	Proto struct {
		ImportPaths []string `mapstructure:"import_paths"`
		Files       []string `mapstructure:"files"`
	} `mapstructure:"proto"`

	Routes []Route `mapstructure:"routes"`
}

// Route is the per-route policy: default group, optional timeout, and the
// maximum number of concurrently outstanding requests.
type Route struct {
	Service        string        `mapstructure:"service"`
	Method         string        `mapstructure:"method"`
	Group          string        `mapstructure:"group"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
}

// BrokerAddr returns the broker's host:port dial target.
func (s *Settings) BrokerAddr() string {
	return fmt.Sprintf("%s:%d", s.Broker.Hostname, s.Broker.Port)
}

// Load reads settings from the given file. Environment variables prefixed
// with GATEWAY_ override file values.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("broker.hostname", DefaultBrokerHostname)
	v.SetDefault("broker.port", DefaultBrokerPort)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}
