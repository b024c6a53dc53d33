// Package config loads service configuration from an optional YAML file
// and ZAKATI_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/pricefeed"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/spf13/viper"
)

const EnvPrefix = "ZAKATI"

type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Log      Log      `mapstructure:"log"`
	Zakat    Zakat    `mapstructure:"zakat"`
	Rates    Rates    `mapstructure:"rates"`
	Sweep    Sweep    `mapstructure:"sweep"`
}

type Server struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Zakat mirrors zakat.Config with decimals kept as strings until parsed.
type Zakat struct {
	TestMode            bool   `mapstructure:"test_mode"`
	TestCycleDays       int    `mapstructure:"test_cycle_days"`
	TestCheckpointHours []int  `mapstructure:"test_checkpoint_hours"`
	GoldNisabGrams      string `mapstructure:"gold_nisab_grams"`
	SilverNisabGrams    string `mapstructure:"silver_nisab_grams"`
	Rate                string `mapstructure:"rate"`
}

type Rates struct {
	FXEnabled       bool          `mapstructure:"fx_enabled"`
	FXProvider      string        `mapstructure:"fx_provider"`
	BaseCurrency    string        `mapstructure:"base_currency"`
	Targets         []string      `mapstructure:"targets"`
	MetalsEnabled   bool          `mapstructure:"metals_enabled"`
	MetalsProvider  string        `mapstructure:"metals_provider"`
	GoldAPIKey      string        `mapstructure:"goldapi_key"`
	MetalsAPIKey    string        `mapstructure:"metalsapi_key"`
	MetalsAPIBase   string        `mapstructure:"metalsapi_base"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	HTTPRetries     int           `mapstructure:"http_retries"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type Sweep struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.path", "zakati.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("zakat.test_mode", false)
	v.SetDefault("zakat.test_cycle_days", 1)
	v.SetDefault("zakat.test_checkpoint_hours", []int{6, 1, 0, -6})
	v.SetDefault("zakat.gold_nisab_grams", "85")
	v.SetDefault("zakat.silver_nisab_grams", "595")
	v.SetDefault("zakat.rate", "0.025")

	v.SetDefault("rates.fx_enabled", false)
	v.SetDefault("rates.fx_provider", pricefeed.ProviderExchangerateHost)
	v.SetDefault("rates.base_currency", "USD")
	v.SetDefault("rates.targets", []string{"SYP", "MYR", "USD"})
	v.SetDefault("rates.metals_enabled", false)
	v.SetDefault("rates.metals_provider", pricefeed.ProviderNone)
	v.SetDefault("rates.goldapi_key", "")
	v.SetDefault("rates.metalsapi_key", "")
	v.SetDefault("rates.metalsapi_base", "USD")
	v.SetDefault("rates.http_timeout", 10*time.Second)
	v.SetDefault("rates.http_retries", 2)
	v.SetDefault("rates.refresh_interval", time.Hour)

	v.SetDefault("sweep.interval", time.Hour)
	v.SetDefault("sweep.concurrency", zakat.DefaultSweepConcurrency)
}

// Load reads path when it is not empty, then applies ZAKATI_* environment
// overrides, e.g. ZAKATI_RATES_FX_ENABLED=true.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("sweep.concurrency must be at least 1")
	}
	if c.Zakat.TestMode && c.Zakat.TestCycleDays < 1 {
		return fmt.Errorf("zakat.test_cycle_days must be at least 1")
	}
	if _, err := c.Zakat.EngineConfig(); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the zakat section into the engine's Config.
func (z Zakat) EngineConfig() (zakat.Config, error) {
	cfg := zakat.DefaultConfig()
	cfg.TestMode = z.TestMode
	if z.TestCycleDays > 0 {
		cfg.TestCycleDays = z.TestCycleDays
	}
	if len(z.TestCheckpointHours) > 0 {
		cfg.TestCheckpointHours = z.TestCheckpointHours
	}

	for _, f := range []struct {
		key string
		raw string
		dst *money.Money
	}{
		{"zakat.gold_nisab_grams", z.GoldNisabGrams, &cfg.GoldNisabGrams},
		{"zakat.silver_nisab_grams", z.SilverNisabGrams, &cfg.SilverNisabGrams},
		{"zakat.rate", z.Rate, &cfg.ZakatRate},
	} {
		if f.raw == "" {
			continue
		}
		v, err := money.Parse(f.raw)
		if err != nil || !v.IsPositive() {
			return zakat.Config{}, fmt.Errorf("%s must be a positive decimal, got %q", f.key, f.raw)
		}
		*f.dst = v
	}
	return cfg, nil
}

// Providers builds the enabled price providers. A disabled kind is nil.
func (r Rates) Providers() (pricefeed.FXProvider, pricefeed.MetalsProvider, error) {
	retry := pricefeed.DefaultRetryConfig()
	retry.MaxRetries = r.HTTPRetries

	var (
		fx     pricefeed.FXProvider
		metals pricefeed.MetalsProvider
		err    error
	)
	if r.FXEnabled {
		fx, err = pricefeed.NewFXProvider(r.FXProvider, pricefeed.Options{Timeout: r.HTTPTimeout, Retry: &retry})
		if err != nil {
			return nil, nil, err
		}
	}
	if r.MetalsEnabled {
		opts := pricefeed.Options{Timeout: r.HTTPTimeout, Retry: &retry}
		switch strings.ToLower(r.MetalsProvider) {
		case pricefeed.ProviderGoldAPI:
			opts.APIKey = r.GoldAPIKey
		case pricefeed.ProviderMetalsAPI:
			opts.APIKey = r.MetalsAPIKey
			opts.Base = r.MetalsAPIBase
		}
		metals, err = pricefeed.NewMetalsProvider(r.MetalsProvider, opts)
		if err != nil {
			return nil, nil, err
		}
	}
	return fx, metals, nil
}
