// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Scraper  ScraperConfig           `mapstructure:"scraper"`
	Fetch    FetchConfig             `mapstructure:"fetch"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	DB       DBConfig                `mapstructure:"db"`
	Telegram TelegramConfig          `mapstructure:"telegram"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls the metrics/health HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs scheduling and reconciliation behavior.
type ScraperConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxPages        int           `mapstructure:"max_pages"`
	CycleInterval   time.Duration `mapstructure:"cycle_interval"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
}

// FetchConfig configures the static page fetcher.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// TelegramConfig holds notification delivery settings.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// SourceConfig describes one configured marketplace. ListingType is
// "rent" when empty; a sales index is configured as its own source.
type SourceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Enabled     bool   `mapstructure:"enabled"`
	Kind        string `mapstructure:"kind"`
	ListingType string `mapstructure:"listing_type"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("scraper.concurrency", 2)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.max_pages", 2)
	v.SetDefault("scraper.cycle_interval", "5m")
	v.SetDefault("scraper.staleness_window", "168h")
	v.SetDefault("scraper.shutdown_grace", "30s")
	v.SetDefault("scraper.backoff_base", "500ms")
	v.SetDefault("scraper.backoff_max", "30s")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("sources.oglasi.base_url", "https://www.oglasi.rs/nekretnine/izdavanje-stanova/novi-sad?s=d&rt=vlasnik")
	v.SetDefault("sources.oglasi.enabled", true)
	v.SetDefault("sources.oglasi.kind", "static")
	v.SetDefault("sources.4zida.base_url", "https://4zida.rs/izdavanje-stanova/gradske-lokacije-novi-sad/vlasnik?sortiranje=najnoviji")
	v.SetDefault("sources.4zida.enabled", true)
	v.SetDefault("sources.4zida.kind", "headless")
	v.SetDefault("sources.halooglasi.base_url", "https://www.halooglasi.com/nekretnine/izdavanje-stanova/novi-sad?oglasivac_nekretnine_id_l=387237")
	v.SetDefault("sources.halooglasi.enabled", true)
	v.SetDefault("sources.halooglasi.kind", "static")
	v.SetDefault("sources.oglasi-prodaja.base_url", "https://www.oglasi.rs/nekretnine/prodaja-stanova/novi-sad?s=d&rt=vlasnik")
	v.SetDefault("sources.oglasi-prodaja.enabled", true)
	v.SetDefault("sources.oglasi-prodaja.kind", "static")
	v.SetDefault("sources.oglasi-prodaja.listing_type", "sale")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("scraper.max_retries must be > 0")
	}
	if c.Scraper.MaxPages <= 0 {
		return fmt.Errorf("scraper.max_pages must be > 0")
	}
	if c.Scraper.CycleInterval <= 0 {
		return fmt.Errorf("scraper.cycle_interval must be > 0")
	}
	if c.Scraper.StalenessWindow <= 0 {
		return fmt.Errorf("scraper.staleness_window must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token must be set when telegram is enabled")
	}
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url must be set", name)
		}
		if src.Kind != "static" && src.Kind != "headless" {
			return fmt.Errorf("sources.%s.kind must be static or headless", name)
		}
		if src.ListingType != "" && src.ListingType != "rent" && src.ListingType != "sale" {
			return fmt.Errorf("sources.%s.listing_type must be rent or sale", name)
		}
	}
	return nil
}

// EnabledSources converts the configured source map into the scheduler's
// input, skipping disabled entries.
func (c Config) EnabledSources() []listing.SourceConfig {
	out := make([]listing.SourceConfig, 0, len(c.Sources))
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		out = append(out, listing.SourceConfig{
			Name:        name,
			BaseURL:     src.BaseURL,
			Enabled:     true,
			Kind:        src.Kind,
			ListingType: src.ListingType,
		})
	}
	return out
}

// RetryPolicy builds the shared retry policy from scraper settings.
func (c Config) RetryPolicy() listing.RetryPolicy {
	return listing.RetryPolicy{
		MaxAttempts: c.Scraper.MaxRetries,
		BaseDelay:   c.Scraper.BackoffBase,
		MaxDelay:    c.Scraper.BackoffMax,
	}
}
