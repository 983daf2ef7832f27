package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MarketplaceConfig carries operator-tunable marketplace policy. It is read
// from marketplace.yml and hot-reloaded, so fee changes do not require a
// restart.
type MarketplaceConfig struct {
	// PlatformFeeBps is retained from captured amounts before payout,
	// in basis points.
	PlatformFeeBps int64 `mapstructure:"platformFeeBps"`

	// MaxTripCapacity bounds the capacity a traveler may announce.
	MaxTripCapacity int `mapstructure:"maxTripCapacity"`

	// WebhookDedupRetentionDays controls how long processed provider
	// events are kept for replay detection.
	WebhookDedupRetentionDays int `mapstructure:"webhookDedupRetentionDays"`
}

func DefaultMarketplaceConfig() MarketplaceConfig {
	return MarketplaceConfig{
		PlatformFeeBps:            1000,
		MaxTripCapacity:           20,
		WebhookDedupRetentionDays: 30,
	}
}

type MarketplaceConfigHolder struct {
	current atomic.Value // holds MarketplaceConfig
}

func NewMarketplaceConfigHolder(cfg Config) (*MarketplaceConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("marketplace")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/wandercart/config") // Volume-mounted config
	v.AddConfigPath("/etc/wandercart")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("WANDERCART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMarketplaceConfig()
	if cfg.PlatformFeeBps > 0 {
		defaults.PlatformFeeBps = cfg.PlatformFeeBps
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// if config file not found, use defaults
		v.SetDefault("marketplace.platformFeeBps", defaults.PlatformFeeBps)
		v.SetDefault("marketplace.maxTripCapacity", defaults.MaxTripCapacity)
		v.SetDefault("marketplace.webhookDedupRetentionDays", defaults.WebhookDedupRetentionDays)
	}

	holder := &MarketplaceConfigHolder{}
	holder.store(readMarketplace(v, defaults))

	v.OnConfigChange(func(_ fsnotify.Event) {
		next := readMarketplace(v, defaults)
		holder.store(next)
		log.Printf("marketplace config reloaded: fee=%dbps maxCapacity=%d", next.PlatformFeeBps, next.MaxTripCapacity)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticMarketplaceConfigHolder wraps a fixed configuration, with no
// file watching. Intended for tests.
func NewStaticMarketplaceConfigHolder(cfg MarketplaceConfig) *MarketplaceConfigHolder {
	holder := &MarketplaceConfigHolder{}
	holder.store(cfg)
	return holder
}

// Current returns the most recently loaded marketplace configuration.
func (h *MarketplaceConfigHolder) Current() MarketplaceConfig {
	if h == nil {
		return DefaultMarketplaceConfig()
	}
	value, ok := h.current.Load().(MarketplaceConfig)
	if !ok {
		return DefaultMarketplaceConfig()
	}
	return value
}

func (h *MarketplaceConfigHolder) store(cfg MarketplaceConfig) {
	h.current.Store(cfg)
}

func readMarketplace(v *viper.Viper, defaults MarketplaceConfig) MarketplaceConfig {
	var cfg MarketplaceConfig
	if err := v.UnmarshalKey("marketplace", &cfg); err != nil {
		return defaults
	}
	if cfg.PlatformFeeBps <= 0 || cfg.PlatformFeeBps >= 10_000 {
		cfg.PlatformFeeBps = defaults.PlatformFeeBps
	}
	if cfg.MaxTripCapacity <= 0 {
		cfg.MaxTripCapacity = defaults.MaxTripCapacity
	}
	if cfg.WebhookDedupRetentionDays <= 0 {
		cfg.WebhookDedupRetentionDays = defaults.WebhookDedupRetentionDays
	}
	return cfg
}
