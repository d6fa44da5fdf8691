package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds every application setting. Host-specific values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Binance struct {
			RestURL     string `yaml:"rest_url"`
			WSURL       string `yaml:"ws_url"`
			QuoteAsset  string `yaml:"quote_asset"`
			TickerLimit int    `yaml:"ticker_limit"`
		} `yaml:"binance"`
		CoinGecko struct {
			RestURL string `yaml:"rest_url"`
		} `yaml:"coingecko"`
	} `yaml:"api"`

	Feed struct {
		BaseDelayMS int `yaml:"base_delay_ms"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"feed"`

	Refresh struct {
		MarketIntervalSec int `yaml:"market_interval_sec"`
		GlobalIntervalSec int `yaml:"global_interval_sec"`
	} `yaml:"refresh"`

	Cache struct {
		Path string `yaml:"path"` // Empty: per-user config directory
	} `yaml:"cache"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in values the file left unset.
func applyDefaults(cfg *Config) {
	if cfg.API.Binance.QuoteAsset == "" {
		cfg.API.Binance.QuoteAsset = "USDT"
	}
	if cfg.API.Binance.TickerLimit <= 0 {
		cfg.API.Binance.TickerLimit = 50
	}
	if cfg.Feed.BaseDelayMS <= 0 {
		cfg.Feed.BaseDelayMS = 5000
	}
	if cfg.Feed.MaxAttempts <= 0 {
		cfg.Feed.MaxAttempts = 5
	}
	if cfg.Refresh.MarketIntervalSec <= 0 {
		cfg.Refresh.MarketIntervalSec = 60
	}
	if cfg.Refresh.GlobalIntervalSec <= 0 {
		cfg.Refresh.GlobalIntervalSec = 300
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.Binance.RestURL, "http://") && !strings.HasPrefix(c.API.Binance.RestURL, "https://") {
		return fmt.Errorf("invalid Binance REST URL: %s", c.API.Binance.RestURL)
	}
	if !strings.HasPrefix(c.API.Binance.WSURL, "ws://") && !strings.HasPrefix(c.API.Binance.WSURL, "wss://") {
		return fmt.Errorf("invalid Binance WS URL: %s", c.API.Binance.WSURL)
	}
	if !strings.HasPrefix(c.API.CoinGecko.RestURL, "http://") && !strings.HasPrefix(c.API.CoinGecko.RestURL, "https://") {
		return fmt.Errorf("invalid CoinGecko REST URL: %s", c.API.CoinGecko.RestURL)
	}
	return nil
}

// overrideWithEnv overrides config values from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("DASHBOARD_BINANCE_REST_URL"); v != "" {
		cfg.API.Binance.RestURL = v
	}
	if v := os.Getenv("DASHBOARD_BINANCE_WS_URL"); v != "" {
		cfg.API.Binance.WSURL = v
	}
	if v := os.Getenv("DASHBOARD_COINGECKO_REST_URL"); v != "" {
		cfg.API.CoinGecko.RestURL = v
	}
	if v := os.Getenv("DASHBOARD_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("DASHBOARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
