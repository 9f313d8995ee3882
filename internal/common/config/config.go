// Package config provides configuration management for the Mission Control core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration sections for the core.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	ChatProxy ChatProxyConfig `mapstructure:"chatProxy"`
}

// ServerConfig holds HTTP server bind configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds Event Store connection configuration. The backend is
// chosen from the URL scheme alone (postgres:// or postgresql:// selects
// Postgres, anything else sqlite); Driver is loaded but not consulted.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path when driver=sqlite
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// BrokerConfig selects and configures the Stream Broker backend. An empty
// URL selects the in-memory broker; a nats:// URL selects the JetStream
// broker, mirroring the provider-selection pattern used for the event bus.
type BrokerConfig struct {
	URL        string `mapstructure:"url"`
	StreamKey  string `mapstructure:"streamKey"`
	Capacity   int    `mapstructure:"capacity"` // bounded in-memory log size before drop-oldest
}

// AuthConfig holds the shared-bearer-token auth configuration.
type AuthConfig struct {
	Token          string `mapstructure:"token"`
	UpstreamScheme string `mapstructure:"upstreamScheme"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ChatProxyConfig holds the agent slug -> upstream mapping for the Chat Proxy.
// AgentsFile, when set, is a YAML overlay (slug -> {upstreamBaseURL, upstreamToken})
// layered on top of (and overriding) AGENT_TOKEN_MAP-derived entries.
type ChatProxyConfig struct {
	AgentsFile string                  `mapstructure:"agentsFile"`
	Agents     map[string]AgentUpstream `mapstructure:"-"`
}

// AgentUpstream is one chat-proxy target.
type AgentUpstream struct {
	UpstreamBaseURL string `yaml:"upstreamBaseURL" mapstructure:"upstreamBaseURL"`
	UpstreamToken   string `yaml:"upstreamToken" mapstructure:"upstreamToken"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" under Kubernetes/production, "text" otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MC_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.url", "sqlite://./missioncontrol.db")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.path", "./missioncontrol.db")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("broker.url", "")
	v.SetDefault("broker.streamKey", "mc:events")
	v.SetDefault("broker.capacity", 10000)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.upstreamScheme", "Bearer")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("chatProxy.agentsFile", "")
}

// Load reads configuration from environment variables, an optional config
// file, and defaults. Environment variables use the prefix MC_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AUTH_TOKEN and DATABASE_URL/BROKER_URL/STREAM_KEY are named directly by
	// the external interface without the server./auth. nesting, so bind them
	// explicitly alongside the automatic MC_ prefix lookups.
	_ = v.BindEnv("auth.token", "AUTH_TOKEN", "MC_AUTH_TOKEN")
	_ = v.BindEnv("database.url", "DATABASE_URL", "MC_DATABASE_URL")
	_ = v.BindEnv("broker.url", "BROKER_URL", "MC_BROKER_URL")
	_ = v.BindEnv("broker.streamKey", "STREAM_KEY", "MC_STREAM_KEY")
	_ = v.BindEnv("auth.upstreamScheme", "UPSTREAM_SCHEME", "MC_UPSTREAM_SCHEME")
	_ = v.BindEnv("logging.level", "MC_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/missioncontrol/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	agents, err := loadAgentTokenMap(os.Getenv("AGENT_TOKEN_MAP"))
	if err != nil {
		return nil, fmt.Errorf("error parsing AGENT_TOKEN_MAP: %w", err)
	}
	cfg.ChatProxy.Agents = agents

	if cfg.ChatProxy.AgentsFile != "" {
		if err := loadAgentsFile(cfg.ChatProxy.AgentsFile, cfg.ChatProxy.Agents); err != nil {
			return nil, fmt.Errorf("error loading agents file: %w", err)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// placeholderTokens are values observed in deployment templates that were
// never filled in; the core treats them as if the variable were unset.
var placeholderTokens = map[string]bool{
	"":           true,
	"TODO":       true,
	"REPLACE_ME": true,
	"YOUR_TOKEN": true,
}

func isPlaceholderToken(v string) bool {
	if placeholderTokens[v] {
		return true
	}
	return strings.HasPrefix(v, "CHANGE_ME")
}

// loadAgentTokenMap parses AGENT_TOKEN_MAP ("slug=token,slug2=token2"). A
// slug is retained with an empty upstream token (no Authorization header
// injected) when its token is a placeholder or absent.
func loadAgentTokenMap(raw string) (map[string]AgentUpstream, error) {
	agents := map[string]AgentUpstream{}
	if strings.TrimSpace(raw) == "" {
		return agents, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		slug := strings.TrimSpace(parts[0])
		if slug == "" {
			continue
		}
		token := ""
		if len(parts) == 2 {
			token = strings.TrimSpace(parts[1])
		}
		if isPlaceholderToken(token) {
			token = ""
		}
		agents[slug] = AgentUpstream{UpstreamToken: token}
	}
	return agents, nil
}

// loadAgentsFile overlays a YAML agents.yaml ({slug: {upstreamBaseURL, upstreamToken}})
// onto the AGENT_TOKEN_MAP-derived entries, overriding any existing slug.
func loadAgentsFile(path string, into map[string]AgentUpstream) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay map[string]AgentUpstream
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	for slug, up := range overlay {
		if isPlaceholderToken(up.UpstreamToken) {
			up.UpstreamToken = ""
		}
		into[slug] = up
	}
	return nil
}

// validate checks that required configuration fields are well-formed.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
