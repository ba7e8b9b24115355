package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for umad.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	DatabasePath  string           `yaml:"database"`
	Tenants       []Tenant         `yaml:"tenants"`
	Currencies    []Currency       `yaml:"currencies"`
	Chains        map[string]Chain `yaml:"chains"`
	Rates         RatesConfig      `yaml:"rates"`
	Invoice       InvoiceConfig    `yaml:"invoice"`
	Payments      PaymentsConfig   `yaml:"payments"`
}

// Tenant describes a served domain and the currencies enabled under it.
type Tenant struct {
	Domain     string           `yaml:"domain"`
	Default    bool             `yaml:"default"`
	BaseAsset  string           `yaml:"base_asset"`
	Currencies []TenantCurrency `yaml:"currencies"`
}

// TenantCurrency enables a currency for a tenant with its sendable range,
// denominated in the currency's smallest unit.
type TenantCurrency struct {
	Code        string `yaml:"code"`
	MinSendable int64  `yaml:"min_sendable"`
	MaxSendable int64  `yaml:"max_sendable"`
}

// Currency is a catalog entry shared by all tenants.
type Currency struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// Chain maps a chain name from a stored user address onto a settlement layer
// and its base asset. Decimals is the asset's smallest-unit precision; zero
// falls back to the engine's built-in table.
type Chain struct {
	Layer    string `yaml:"layer"`
	Asset    string `yaml:"asset"`
	Decimals int    `yaml:"decimals"`
}

// RatesConfig selects the market-rate source.
type RatesConfig struct {
	Source   string            `yaml:"source"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Fixed    map[string]string `yaml:"fixed"`
}

// InvoiceConfig tunes the Lightning invoice issuer.
type InvoiceConfig struct {
	SeedEnv string   `yaml:"seed_env"`
	Network string   `yaml:"network"`
	Expiry  Duration `yaml:"expiry"`
}

// PaymentsConfig controls payment-request bookkeeping.
type PaymentsConfig struct {
	Retention     Duration `yaml:"retention"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/umad.sqlite"
	}
	if cfg.Rates.Source == "" {
		cfg.Rates.Source = "fixed"
	}
	if cfg.Invoice.SeedEnv == "" {
		cfg.Invoice.SeedEnv = "UMAD_INVOICE_SEED"
	}
	if cfg.Invoice.Network == "" {
		cfg.Invoice.Network = "bc"
	}
	if cfg.Invoice.Expiry.Duration == 0 {
		cfg.Invoice.Expiry.Duration = 10 * time.Minute
	}
	if cfg.Payments.Retention.Duration > 0 && cfg.Payments.SweepInterval.Duration == 0 {
		cfg.Payments.SweepInterval.Duration = time.Hour
	}
	for name, chain := range cfg.Chains {
		chain.Layer = strings.ToLower(strings.TrimSpace(chain.Layer))
		chain.Asset = strings.ToUpper(strings.TrimSpace(chain.Asset))
		cfg.Chains[name] = chain
	}
}

func validate(cfg Config) error {
	if len(cfg.Tenants) == 0 {
		return fmt.Errorf("at least one tenant must be configured")
	}
	defaults := 0
	catalog := make(map[string]struct{}, len(cfg.Currencies))
	for _, cur := range cfg.Currencies {
		code := strings.ToUpper(strings.TrimSpace(cur.Code))
		if code == "" {
			return fmt.Errorf("currency entry missing code")
		}
		if cur.Decimals < 0 {
			return fmt.Errorf("currency %s: decimals must be non-negative", code)
		}
		catalog[code] = struct{}{}
	}
	for _, tenant := range cfg.Tenants {
		if strings.TrimSpace(tenant.Domain) == "" {
			return fmt.Errorf("tenant entry missing domain")
		}
		if tenant.Default {
			defaults++
		}
		for _, cur := range tenant.Currencies {
			code := strings.ToUpper(strings.TrimSpace(cur.Code))
			if _, ok := catalog[code]; !ok {
				return fmt.Errorf("tenant %s enables unknown currency %s", tenant.Domain, cur.Code)
			}
			if cur.MinSendable < 0 || cur.MaxSendable < cur.MinSendable {
				return fmt.Errorf("tenant %s currency %s: invalid sendable range", tenant.Domain, code)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one tenant may be marked default")
	}
	for name, chain := range cfg.Chains {
		if chain.Layer == "" || chain.Asset == "" {
			return fmt.Errorf("chain %s: layer and asset are required", name)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Rates.Source)) {
	case "fixed":
		if len(cfg.Rates.Fixed) == 0 {
			return fmt.Errorf("fixed rate source requires at least one rate")
		}
	case "http":
		if strings.TrimSpace(cfg.Rates.Endpoint) == "" {
			return fmt.Errorf("http rate source requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown rate source %q", cfg.Rates.Source)
	}
	return nil
}

// DefaultTenant returns the tenant marked default, or the first tenant when
// none is marked.
func (c Config) DefaultTenant() Tenant {
	for _, tenant := range c.Tenants {
		if tenant.Default {
			return tenant
		}
	}
	if len(c.Tenants) > 0 {
		return c.Tenants[0]
	}
	return Tenant{}
}
