package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EMBYPROXY_"

// Config is the process-wide configuration, constructed once at startup and
// passed into every component explicitly.
type Config struct {
	Server struct {
		Addr string `koanf:"addr"`
	} `koanf:"server"`

	Emby struct {
		// BaseURL is the upstream Emby server, e.g. http://emby:8096.
		BaseURL string `koanf:"base_url"`
		// APIKey is the server-level token used for outbound calls
		// (library refresh, websocket subscription).
		APIKey string `koanf:"api_key"`
	} `koanf:"emby"`

	Proxy struct {
		// BaseURL is the externally visible address of this proxy; rewritten
		// stream URLs point here.
		BaseURL string `koanf:"base_url"`
	} `koanf:"proxy"`

	Drive struct {
		BaseURL   string `koanf:"base_url"`
		Cookie    string `koanf:"cookie"`
		UserAgent string `koanf:"user_agent"`
	} `koanf:"drive"`

	Cache struct {
		RedisURL     string        `koanf:"redis_url"`
		LinkTTL      time.Duration `koanf:"link_ttl"`
		LinkCapacity int           `koanf:"link_capacity"`
	} `koanf:"cache"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Aggregate struct {
		// Window coalesces per-episode webhook bursts for the same
		// series/season into one record.
		Window time.Duration `koanf:"window"`
	} `koanf:"aggregate"`

	Delete struct {
		// ExecutionEnabled gates DeleteExecutor. Plans can always be
		// created; nothing is ever deleted while this is false.
		ExecutionEnabled bool `koanf:"execution_enabled"`
	} `koanf:"delete"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = "0.0.0.0:8095"
	cfg.Drive.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	cfg.Cache.LinkTTL = 15 * time.Minute
	cfg.Cache.LinkCapacity = 1024
	cfg.Aggregate.Window = 10 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the optional yaml config file at path, then applies
// EMBYPROXY_* environment overrides. Double underscores in env names map to
// nesting, e.g. EMBYPROXY_EMBY__BASE_URL -> emby.base_url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Emby.BaseURL == "" {
		return fmt.Errorf("config: emby.base_url is required")
	}
	if c.Proxy.BaseURL == "" {
		return fmt.Errorf("config: proxy.base_url is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	for key, raw := range map[string]string{
		"emby.base_url":  c.Emby.BaseURL,
		"proxy.base_url": c.Proxy.BaseURL,
		"drive.base_url": c.Drive.BaseURL,
	} {
		if raw == "" {
			continue
		}
		if !validHTTPURL(raw) {
			return fmt.Errorf("config: %s must be an absolute http(s) url", key)
		}
	}
	if c.Aggregate.Window <= 0 {
		c.Aggregate.Window = 10 * time.Second
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
