package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// autofinalize policies accepted by AUTOFINALIZE_POLICY.
var autoFinalizePolicies = map[string]bool{
	"immediate":       true,
	"on_completion":   true,
	"when_no_pending": true,
	"manual":          true,
}

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultFacility string        `mapstructure:"DEFAULT_FACILITY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`

	FacilityTimezone  string `mapstructure:"FACILITY_TIMEZONE"`
	AutoCreateInvoice bool   `mapstructure:"AUTO_CREATE_INVOICE"`
	DefaultTaxRate    string `mapstructure:"DEFAULT_TAX_RATE"`
	AutoFinalize      string `mapstructure:"AUTOFINALIZE_POLICY"`
	RoomTypeAliases   string `mapstructure:"ROOM_TYPE_ALIASES"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_FACILITY",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"FACILITY_TIMEZONE", "AUTO_CREATE_INVOICE", "DEFAULT_TAX_RATE",
	"AUTOFINALIZE_POLICY", "ROOM_TYPE_ALIASES",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_FACILITY", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("FACILITY_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("AUTO_CREATE_INVOICE", true)
	v.SetDefault("DEFAULT_TAX_RATE", "0")
	v.SetDefault("AUTOFINALIZE_POLICY", "manual")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode: unauthenticated requests get admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads FACILITY_TIMEZONE, the zone in which a calendar day starts
// and ends for room billing.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.FacilityTimezone)
	if err != nil {
		return nil, fmt.Errorf("FACILITY_TIMEZONE %q: %w", c.FacilityTimezone, err)
	}
	return loc, nil
}

// TaxRate parses DEFAULT_TAX_RATE as a percentage.
func (c *Config) TaxRate() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.DefaultTaxRate)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_TAX_RATE %q is not a number", c.DefaultTaxRate)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("DEFAULT_TAX_RATE must be between 0 and 100, got %s", rate)
	}
	return rate, nil
}

// Aliases parses ROOM_TYPE_ALIASES, a comma-separated list of
// "alias=Canonical" pairs, e.g. "Gen Ward B=General,Dlx=Deluxe".
func (c *Config) Aliases() (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(c.RoomTypeAliases, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		alias, canonical, ok := strings.Cut(pair, "=")
		alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
		if !ok || alias == "" || canonical == "" {
			return nil, fmt.Errorf("ROOM_TYPE_ALIASES entry %q must look like alias=Canonical", pair)
		}
		out[alias] = canonical
	}
	return out, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least 32 bytes is required so bearer tokens are
// actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when ENV=%q", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.TaxRate(); err != nil {
		return err
	}
	if policy := strings.ToLower(strings.TrimSpace(c.AutoFinalize)); policy != "" && !autoFinalizePolicies[policy] {
		return fmt.Errorf("AUTOFINALIZE_POLICY must be one of immediate, on_completion, when_no_pending, manual; got %q", c.AutoFinalize)
	}
	if _, err := c.Aliases(); err != nil {
		return err
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
