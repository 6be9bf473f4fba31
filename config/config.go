// Package config loads coinbot settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete bot configuration.
type Config struct {
	Server        ServerConfig   `mapstructure:"server"`
	CoinGecko     UpstreamConfig `mapstructure:"coingecko"`
	CoinMarketCap UpstreamConfig `mapstructure:"coinmarketcap"`
	Refresh       RefreshConfig  `mapstructure:"refresh"`
	Resolve       ResolveConfig  `mapstructure:"resolve"`
	HTTP          HTTPConfig     `mapstructure:"http"`
	Cache         CacheConfig    `mapstructure:"cache"`
	News          NewsConfig     `mapstructure:"news"`
	OpenAI        OpenAIConfig   `mapstructure:"openai"`
	WhatsApp      WhatsAppConfig `mapstructure:"whatsapp"`
	Log           LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// UpstreamConfig is shared by the market data APIs.
type UpstreamConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ResolveConfig controls the interactive coin picker.
type ResolveConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Candidates int           `mapstructure:"candidates"`
}

type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// CacheConfig selects the response cache. An empty RedisURL keeps it in memory.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis_url"`
}

type NewsConfig struct {
	Feeds []string `mapstructure:"feeds"`
	Limit int      `mapstructure:"limit"`
}

// OpenAIConfig enables the free-text agent when APIKey is set.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
	Model  string `mapstructure:"model"`
}

type WhatsAppConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DB      string `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load reads the configuration. When path is empty the file is looked up as
// coinbot.yaml in ./config and then $HOME/.coinbot; a missing file is not an
// error. Environment variables override the file, e.g. COINBOT_RESOLVE_TIMEOUT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coinbot")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".coinbot"))
		}
	}

	v.SetEnvPrefix("COINBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// legacy names from earlier deployments
	v.BindEnv("coinmarketcap.api_key", "COINBOT_COINMARKETCAP_API_KEY", "KEY")
	v.BindEnv("coingecko.api_key", "COINBOT_COINGECKO_API_KEY", "GECKO_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the bot cannot run with.
func (c *Config) Validate() error {
	if c.Resolve.Timeout <= 0 {
		return fmt.Errorf("resolve.timeout must be positive, got %s", c.Resolve.Timeout)
	}
	if c.Resolve.Candidates < 1 {
		return fmt.Errorf("resolve.candidates must be at least 1, got %d", c.Resolve.Candidates)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %s", c.Refresh.Interval)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.WhatsApp.Enabled && c.WhatsApp.DB == "" {
		return fmt.Errorf("whatsapp.db is required when whatsapp is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")

	v.SetDefault("coingecko.url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.api_key", "")
	v.SetDefault("coinmarketcap.url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("coinmarketcap.api_key", "")

	v.SetDefault("refresh.interval", time.Hour)

	v.SetDefault("resolve.timeout", 30*time.Second)
	v.SetDefault("resolve.candidates", 3)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.min_interval", 2*time.Second)

	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.redis_url", "")

	v.SetDefault("news.feeds", []string{
		"https://www.coindesk.com/arc/outboundfeeds/rss/",
		"https://cointelegraph.com/rss",
		"https://decrypt.co/feed",
	})
	v.SetDefault("news.limit", 5)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.url", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")

	v.SetDefault("whatsapp.enabled", false)
	v.SetDefault("whatsapp.db", "whatsapp.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
