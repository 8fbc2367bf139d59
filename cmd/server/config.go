package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/handlers"
	"github.com/MegaGrindStone/gemini-chat/internal/models"
	"github.com/MegaGrindStone/gemini-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type upstreamConfig interface {
	upstream(logger *slog.Logger) (handlers.Upstream, error)
	httpOptions() services.HTTPOptions
}

// BaseUpstreamConfig contains the common fields for all upstream configurations.
type BaseUpstreamConfig struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	models.Prompt      `yaml:",inline"`
}

type config struct {
	Port        string         `yaml:"port"`
	Env         string         `yaml:"env"`
	LogLevel    string         `yaml:"logLevel"`
	StorePath   string         `yaml:"storePath"`
	CORSOrigins []string       `yaml:"corsOrigins"`
	TurnTimeout time.Duration  `yaml:"turnTimeout"`
	SessionTTL  time.Duration  `yaml:"sessionTTL"`
	Upstream    upstreamConfig `yaml:"upstream"`
	Client      clientConfig   `yaml:"client"`
}

type geminiConfig struct {
	BaseUpstreamConfig `yaml:",inline"`
	BaseURL            string `yaml:"baseURL"`
}

type geminiSDKConfig struct {
	BaseUpstreamConfig `yaml:",inline"`
	Endpoint           string `yaml:"endpoint"`
}

type anthropicConfig struct {
	BaseUpstreamConfig `yaml:",inline"`
	BaseURL            string `yaml:"baseURL"`
}

type openAIConfig struct {
	BaseUpstreamConfig `yaml:",inline"`
	BaseURL            string `yaml:"baseURL"`
}

// clientConfig selects how the chat page reaches the provider: directly through the configured upstream,
// or through a relay endpoint, possibly on another host.
type clientConfig struct {
	Mode     string `yaml:"mode"`
	RelayURL string `yaml:"relayURL"`
}

const (
	clientModeDirect = "direct"
	clientModeProxy  = "proxy"

	envProduction  = "production"
	envDevelopment = "development"

	defaultPort            = "8080"
	defaultUpstreamTimeout = 60 * time.Second
	defaultSessionTTL      = 24 * time.Hour
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port        string         `yaml:"port"`
		Env         string         `yaml:"env"`
		LogLevel    string         `yaml:"logLevel"`
		StorePath   string         `yaml:"storePath"`
		CORSOrigins []string       `yaml:"corsOrigins"`
		TurnTimeout time.Duration  `yaml:"turnTimeout"`
		SessionTTL  time.Duration  `yaml:"sessionTTL"`
		Upstream    map[string]any `yaml:"upstream"`
		Client      clientConfig   `yaml:"client"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.Env = rawConfig.Env
	c.LogLevel = rawConfig.LogLevel
	c.StorePath = rawConfig.StorePath
	c.CORSOrigins = rawConfig.CORSOrigins
	c.TurnTimeout = rawConfig.TurnTimeout
	c.SessionTTL = rawConfig.SessionTTL
	c.Client = rawConfig.Client

	if rawConfig.Upstream == nil {
		return nil
	}

	provider, ok := rawConfig.Upstream["provider"].(string)
	if !ok {
		return fmt.Errorf("upstream provider is required")
	}

	upstreamRawYAML, err := yaml.Marshal(rawConfig.Upstream)
	if err != nil {
		return err
	}

	up, err := newUpstreamConfig(provider)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(upstreamRawYAML, up); err != nil {
		return err
	}

	c.Upstream = up

	return nil
}

func newUpstreamConfig(provider string) (upstreamConfig, error) {
	switch provider {
	case "gemini":
		return &geminiConfig{}, nil
	case "gemini-sdk":
		return &geminiSDKConfig{}, nil
	case "openai":
		return &openAIConfig{}, nil
	case "anthropic":
		return &anthropicConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown upstream provider: %s", provider)
	}
}

// loadConfig reads the YAML file at path, if it exists, then applies defaults and environment overrides.
// A missing file isn't an error: the server runs against the public Gemini endpoint by default.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		// An empty file decodes to io.EOF and leaves every field to its default.
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.applyDefaults(); err != nil {
		return config{}, err
	}

	return cfg, cfg.validate()
}

func (c *config) applyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := getenv("STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := getenv("CLIENT_MODE"); v != "" {
		c.Client.Mode = v
	}
	if v := getenv("RELAY_URL"); v != "" {
		c.Client.RelayURL = v
	}
	if v := getenv("GEMINI_BASE_URL"); v != "" {
		if g, ok := c.Upstream.(*geminiConfig); ok {
			g.BaseURL = v
		} else if c.Upstream == nil {
			c.Upstream = &geminiConfig{BaseURL: v}
		}
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		if o, ok := c.Upstream.(*openAIConfig); ok {
			o.BaseURL = v
		}
	}
}

func (c *config) applyDefaults() error {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Env == "" {
		c.Env = envDevelopment
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Client.Mode == "" {
		c.Client.Mode = clientModeDirect
	}
	if c.Upstream == nil {
		c.Upstream = &geminiConfig{}
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.StorePath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("error getting user config dir: %w", err)
		}
		c.StorePath = filepath.Join(cfgDir, "geminichat", "store.db")
	}
	return nil
}

func (c config) validate() error {
	if _, err := c.logLevel(); err != nil {
		return err
	}
	switch c.Env {
	case envProduction, envDevelopment:
	default:
		return fmt.Errorf("unknown env: %s", c.Env)
	}
	switch c.Client.Mode {
	case clientModeDirect:
	case clientModeProxy:
		if c.Client.RelayURL == "" {
			return fmt.Errorf("client relayURL is required in %s mode", clientModeProxy)
		}
	default:
		return fmt.Errorf("unknown client mode: %s", c.Client.Mode)
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("turnTimeout must not be negative")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("sessionTTL must not be negative")
	}
	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (b BaseUpstreamConfig) httpOptions() services.HTTPOptions {
	timeout := b.Timeout
	if timeout == 0 {
		timeout = defaultUpstreamTimeout
	}
	return services.HTTPOptions{
		Timeout:            timeout,
		InsecureSkipVerify: b.InsecureSkipVerify,
	}
}

func (g geminiConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	client := services.NewHTTPClient(g.httpOptions())
	return services.NewGemini(g.BaseURL, g.Model, g.Prompt, client, logger), nil
}

func (g geminiSDKConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	client := services.NewHTTPClient(g.httpOptions())
	return services.NewGeminiSDK(g.Endpoint, g.Model, g.Prompt, client, logger), nil
}

func (o openAIConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	client := services.NewHTTPClient(o.httpOptions())
	return services.NewOpenAI(o.BaseURL, o.Model, o.Prompt, client, logger), nil
}

func (a anthropicConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	client := services.NewHTTPClient(a.httpOptions())
	return services.NewAnthropic(a.BaseURL, a.Model, a.Prompt, client, logger), nil
}
