// Package config merges the daemon's three settings layers: command-line
// flags over PARLEY_* environment variables over a YAML file. Defaults
// are applied in one place so every binary agrees on them.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	URL       string   `yaml:"url"`
	WSURL     string   `yaml:"ws_url"`
	Transport string   `yaml:"transport"` // nethttp | fasthttp
	Timeout   Duration `yaml:"timeout"`
}

type ActorConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type CredentialConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

type CacheConfig struct {
	Dir         string   `yaml:"dir"`
	TTL         Duration `yaml:"ttl"`
	JanitorCron string   `yaml:"janitor_cron"`
}

// ListenConfig is the local healthz/metrics listener, not the backend.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type LoggingConfig struct {
	Level       string    `yaml:"level"`
	Dir         string    `yaml:"dir"`
	MaxFileSize SizeBytes `yaml:"max_file_size"`
}

type PresenceConfig struct {
	TypingInterval Duration `yaml:"typing_interval"`
	TypingTTL      Duration `yaml:"typing_ttl"`
}

type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Actor      ActorConfig      `yaml:"actor"`
	Credential CredentialConfig `yaml:"credential"`
	Cache      CacheConfig      `yaml:"cache"`
	Listen     ListenConfig     `yaml:"listen"`
	Logging    LoggingConfig    `yaml:"logging"`
	Presence   PresenceConfig   `yaml:"presence"`
}

// Addr returns host:port for the local listener.
func (c *Config) Addr() string {
	addr := c.Listen.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	p := c.Listen.Port
	if p == 0 {
		p = 7117
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SetAddr splits a host:port value into the listen fields. A value without
// a port sets only the address.
func (c *Config) SetAddr(addr string) {
	if h, p, err := net.SplitHostPort(addr); err == nil {
		c.Listen.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			c.Listen.Port = pi
		}
		return
	}
	c.Listen.Address = addr
}

// WSEndpoint returns the feed URL, derived from the backend URL when no
// explicit ws_url is configured.
func (c *Config) WSEndpoint() string {
	if c.Backend.WSURL != "" {
		return c.Backend.WSURL
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// Token resolves the credential, preferring the inline token over the
// token file.
func (c *Config) Token() (string, error) {
	if c.Credential.Token != "" {
		return c.Credential.Token, nil
	}
	if c.Credential.TokenFile != "" {
		b, err := os.ReadFile(c.Credential.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		tok := strings.TrimSpace(string(b))
		if tok == "" {
			return "", errors.New("token file is empty")
		}
		return tok, nil
	}
	return "", errors.New("no credential configured")
}

// ApplyDefaults fills every unset knob.
func (c *Config) ApplyDefaults() {
	if c.Backend.Transport == "" {
		c.Backend.Transport = "nethttp"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = Duration(30 * time.Second)
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(24 * time.Hour)
	}
	if c.Cache.JanitorCron == "" {
		c.Cache.JanitorCron = "0 * * * *"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxFileSize == 0 {
		c.Logging.MaxFileSize = SizeBytes(10 * 1024 * 1024)
	}
	if c.Presence.TypingInterval == 0 {
		c.Presence.TypingInterval = Duration(time.Second)
	}
	if c.Presence.TypingTTL == 0 {
		c.Presence.TypingTTL = Duration(time.Second)
	}
}

// Validate reports the first missing or malformed required setting.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL)
	}
	switch c.Backend.Transport {
	case "nethttp", "fasthttp":
	default:
		return fmt.Errorf("backend.transport %q unknown (nethttp or fasthttp)", c.Backend.Transport)
	}
	if c.Actor.ID == "" {
		return errors.New("actor.id is required")
	}
	if _, err := c.Token(); err != nil {
		return err
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	return nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses the daemon's flags and returns
// their values along with which flags were explicitly set.
func ParseCommandFlags() (backend string, cacheDir string, addr string, cfgPath string, setFlags map[string]bool) {
	backendPtr := flag.String("backend", "", "marketplace backend base URL")
	cachePtr := flag.String("cache", "", "cache directory")
	addrPtr := flag.String("addr", "", "local healthz/metrics listen address")
	cfgPtr := flag.String("config", "./parley.yaml", "path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *backendPtr, *cachePtr, *addrPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies PARLEY_* environment overrides onto cfg and
// reports whether any were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		if td, err := time.ParseDuration(v); err == nil {
			envUsed = true
			*dst = Duration(td)
			return
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			envUsed = true
			*dst = Duration(time.Duration(f * float64(time.Second)))
		}
	}

	str("PARLEY_BACKEND_URL", &cfg.Backend.URL)
	str("PARLEY_WS_URL", &cfg.Backend.WSURL)
	str("PARLEY_TRANSPORT", &cfg.Backend.Transport)
	dur("PARLEY_TIMEOUT", &cfg.Backend.Timeout)
	str("PARLEY_ACTOR_ID", &cfg.Actor.ID)
	str("PARLEY_ACTOR_NAME", &cfg.Actor.Name)
	str("PARLEY_TOKEN", &cfg.Credential.Token)
	str("PARLEY_TOKEN_FILE", &cfg.Credential.TokenFile)
	str("PARLEY_CACHE_PATH", &cfg.Cache.Dir)
	dur("PARLEY_CACHE_TTL", &cfg.Cache.TTL)
	str("PARLEY_JANITOR_CRON", &cfg.Cache.JanitorCron)
	str("PARLEY_LOG_LEVEL", &cfg.Logging.Level)
	str("PARLEY_LOG_DIR", &cfg.Logging.Dir)
	dur("PARLEY_TYPING_INTERVAL", &cfg.Presence.TypingInterval)
	dur("PARLEY_TYPING_TTL", &cfg.Presence.TypingTTL)

	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		envUsed = true
		cfg.SetAddr(v)
	} else {
		str("PARLEY_ADDRESS", &cfg.Listen.Address)
		if port := os.Getenv("PARLEY_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Listen.Port = pi
			}
		}
	}

	return envUsed
}

// LoadEffective loads the file at path, applies env overrides and
// defaults. A missing file is fine as long as env or flags carry the
// required settings; a file that exists but does not parse is an error.
// The returned bool reports whether a file was read.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	fromFile := err == nil
	if !fromFile {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
		cfg = &Config{}
	}
	LoadEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, fromFile, nil
}

// ResolveConfigPath decides the config file path using the flag value and
// PARLEY_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
