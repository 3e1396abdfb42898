// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig                           `mapstructure:"app"`
	Chains    map[string]map[string]NetworkConfig `mapstructure:"chains"`
	External  ExternalAPIConfig                   `mapstructure:"external"`
	Wallets   []WalletConfig                      `mapstructure:"wallets"`
	Telemetry TelemetryConfig                     `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
}

// NetworkConfig describes one (chain, network) pair: its numeric chain id
// and the RPC endpoints available for it, each tagged with a capability.
type NetworkConfig struct {
	ChainID   uint64           `mapstructure:"chain_id"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig is one RPC endpoint with its capability tag.
type ProviderConfig struct {
	URL        string `mapstructure:"url"`
	Capability string `mapstructure:"capability"`
}

// ExternalAPIConfig holds settings for the third-party historical data API.
type ExternalAPIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	StreamWSURL       string        `mapstructure:"stream_ws_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	PageSize          int           `mapstructure:"page_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// WalletConfig seeds the wallet directory with a wallet and its addresses.
type WalletConfig struct {
	ID        string   `mapstructure:"id"`
	Chain     string   `mapstructure:"chain"`
	Network   string   `mapstructure:"network"`
	Addresses []string `mapstructure:"addresses"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Network returns the configuration for (chain, network), or an error when
// either is unknown. Lookups are case-insensitive; viper lowercases keys.
func (c *Config) Network(chain, network string) (NetworkConfig, error) {
	networks, ok := c.Chains[strings.ToLower(chain)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown chain %q", chain)
	}
	nc, ok := networks[strings.ToLower(network)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q for chain %q", network, chain)
	}
	return nc, nil
}

// Endpoint returns the first configured endpoint for (chain, network) whose
// capability tag satisfies the requested capability.
func (c *Config) Endpoint(chain, network string, capability domain.Capability) (ProviderConfig, error) {
	nc, err := c.Network(chain, network)
	if err != nil {
		return ProviderConfig{}, err
	}
	for _, p := range nc.Providers {
		if domain.Capability(p.Capability).Satisfies(capability) {
			return p, nil
		}
	}
	return ProviderConfig{}, fmt.Errorf("no %s endpoint configured for %s/%s", capability, chain, network)
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("BITCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bitcore")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8081)

	v.SetDefault("external.requests_per_minute", 600)
	v.SetDefault("external.page_size", 100)
	v.SetDefault("external.request_timeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "bitcore")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

func (c *Config) validate() error {
	for chain, networks := range c.Chains {
		for network, nc := range networks {
			if len(nc.Providers) == 0 {
				return fmt.Errorf("chain %s/%s has no providers configured", chain, network)
			}
			for _, p := range nc.Providers {
				if p.URL == "" {
					return fmt.Errorf("chain %s/%s has a provider with no url", chain, network)
				}
				if !domain.Capability(p.Capability).Valid() {
					return fmt.Errorf("chain %s/%s provider %s has invalid capability %q",
						chain, network, p.URL, p.Capability)
				}
			}
		}
	}
	return nil
}
