// Package config loads the YAML configuration shared by the pondchat
// commands.
//
// A file only needs the keys it changes; everything else keeps the values
// from Default. ${VAR} references are expanded from the environment before
// parsing:
//
//	client:
//	  api_url: https://chat.example.com/api
//	  token_file: ${HOME}/.pondchat/token
//	  reconnect:
//	    strategy: exponential
//	broker:
//	  jwt_secret: ${PONDCHAT_JWT_SECRET}
//	log:
//	  level: debug
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/pondchat/logging"
)

const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// Config is the root of the configuration file.
type Config struct {
	Client ClientConfig   `yaml:"client"`
	Broker BrokerConfig   `yaml:"broker"`
	Log    logging.Config `yaml:"log"`
}

// ClientConfig configures the chat transport.
type ClientConfig struct {
	// APIURL is the REST base the socket URL is derived from.
	APIURL string `yaml:"api_url"`
	// Endpoint overrides the derived socket URL.
	Endpoint string `yaml:"endpoint"`

	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
	// TokenLeeway withholds JWTs that expire within this window.
	TokenLeeway time.Duration `yaml:"token_leeway"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	SendBuffer       int           `yaml:"send_buffer"`

	SendRoute   string `yaml:"send_route"`
	TypingRoute string `yaml:"typing_route"`
}

// ReconnectConfig selects the reconnect policy.
type ReconnectConfig struct {
	// Strategy is "fixed" or "exponential".
	Strategy string `yaml:"strategy"`
	// Delay is used by the fixed strategy.
	Delay time.Duration `yaml:"delay"`

	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Factor      float64       `yaml:"factor"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// HeartbeatConfig holds the desired heart-beat intervals. Zero disables a
// direction.
type HeartbeatConfig struct {
	Incoming time.Duration `yaml:"incoming"`
	Outgoing time.Duration `yaml:"outgoing"`
}

// BrokerConfig configures the development broker.
type BrokerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`

	// JWTSecret enables HS256 authentication of CONNECT frames.
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// RedisURL switches fan-out to Redis so several brokers share rooms.
	RedisURL string `yaml:"redis_url"`

	Heartbeat      HeartbeatConfig `yaml:"heartbeat"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MetricsPath    string          `yaml:"metrics_path"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL: "http://localhost:8080/api",
			Reconnect: ReconnectConfig{
				Strategy: StrategyFixed,
				Delay:    5 * time.Second,
				Initial:  time.Second,
				Max:      30 * time.Second,
				Factor:   2,
				Jitter:   0.1,
			},
			Heartbeat: HeartbeatConfig{
				Incoming: 4 * time.Second,
				Outgoing: 4 * time.Second,
			},
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			SendBuffer:       256,
			SendRoute:        "/app/chat.send",
			TypingRoute:      "/app/chat.typing",
		},
		Broker: BrokerConfig{
			Addr:     ":8080",
			Path:     "/ws",
			TokenTTL: 24 * time.Hour,
			Heartbeat: HeartbeatConfig{
				Incoming: 4 * time.Second,
				Outgoing: 4 * time.Second,
			},
			MetricsPath:     "/metrics",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, expands environment references and validates the
// result. An empty path returns Default.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a single YAML document over Default. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Client.Reconnect.Strategy = strings.ToLower(strings.TrimSpace(c.Client.Reconnect.Strategy))
	if c.Client.Reconnect.Strategy == "" {
		c.Client.Reconnect.Strategy = StrategyFixed
	}
	c.Client.Token = strings.TrimSpace(c.Client.Token)
	if c.Broker.Path != "" && !strings.HasPrefix(c.Broker.Path, "/") {
		c.Broker.Path = "/" + c.Broker.Path
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	client := c.Client
	if client.APIURL == "" && client.Endpoint == "" {
		errs = append(errs, errors.New("client: api_url or endpoint is required"))
	}
	if client.Token != "" && client.TokenFile != "" {
		errs = append(errs, errors.New("client: token and token_file are mutually exclusive"))
	}
	switch client.Reconnect.Strategy {
	case StrategyFixed:
		if client.Reconnect.Delay <= 0 {
			errs = append(errs, errors.New("client.reconnect: delay must be positive"))
		}
	case StrategyExponential:
		if client.Reconnect.Initial <= 0 {
			errs = append(errs, errors.New("client.reconnect: initial must be positive"))
		}
		if client.Reconnect.Factor < 1 {
			errs = append(errs, errors.New("client.reconnect: factor must be at least 1"))
		}
		if client.Reconnect.Jitter < 0 || client.Reconnect.Jitter > 1 {
			errs = append(errs, errors.New("client.reconnect: jitter must be between 0 and 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("client.reconnect: unknown strategy %q", client.Reconnect.Strategy))
	}
	if client.Heartbeat.Incoming < 0 || client.Heartbeat.Outgoing < 0 {
		errs = append(errs, errors.New("client.heartbeat: intervals must not be negative"))
	}

	broker := c.Broker
	if broker.Addr == "" {
		errs = append(errs, errors.New("broker: addr is required"))
	}
	if broker.Path == "" {
		errs = append(errs, errors.New("broker: path is required"))
	}
	if broker.JWTSecret != "" && broker.TokenTTL <= 0 {
		errs = append(errs, errors.New("broker: token_ttl must be positive"))
	}
	if broker.Heartbeat.Incoming < 0 || broker.Heartbeat.Outgoing < 0 {
		errs = append(errs, errors.New("broker.heartbeat: intervals must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}
