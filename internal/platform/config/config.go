// Package config loads and validates process configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	IdentityFirebase = "firebase"
	IdentityLocal    = "local"

	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Config is the assembled process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Identity IdentityConfig
	Tenant   TenantConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string
	Env      string
	LogLevel string
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the socket peer is the client.
	TrustedProxies []netip.Prefix
}

// DatabaseConfig configures the relational store. An empty URL selects the
// in-memory gateway, which is refused in production.
type DatabaseConfig struct {
	URL             string
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig configures the Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type IdentityConfig struct {
	Provider string
	Firebase FirebaseConfig
	Local    LocalIdentityConfig
}

type FirebaseConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
	APIBaseURL  string
}

type LocalIdentityConfig struct {
	SigningKey string
	TokenTTL   time.Duration
	BcryptCost int
}

type TenantConfig struct {
	ProvisioningTimeout time.Duration
	CompensationTimeout time.Duration
}

// AuditConfig selects the audit sink. No brokers means audit events go to
// the process log only.
type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// RateLimitConfig bounds API requests per client IP. Requests of zero
// disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// IsProduction reports whether the process runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// env mirrors the flat environment keys.
type env struct {
	Addr     string `mapstructure:"ADDR"`
	AppEnv   string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DatabaseDriver    string        `mapstructure:"DATABASE_DRIVER"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	MigrateOnStart    bool          `mapstructure:"MIGRATE_ON_START"`

	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisPoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	RedisMinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	RedisDialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	RedisWriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`

	IdentityProvider    string `mapstructure:"IDENTITY_PROVIDER"`
	FirebaseProjectID   string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseClientEmail string `mapstructure:"FIREBASE_CLIENT_EMAIL"`
	FirebasePrivateKey  string `mapstructure:"FIREBASE_PRIVATE_KEY"`
	FirebaseAPIBaseURL  string `mapstructure:"FIREBASE_API_BASE_URL"`

	LocalSigningKey string        `mapstructure:"LOCAL_IDENTITY_SIGNING_KEY"`
	LocalTokenTTL   time.Duration `mapstructure:"LOCAL_IDENTITY_TOKEN_TTL"`
	BcryptCost      int           `mapstructure:"BCRYPT_COST"`

	ProvisioningTimeout time.Duration `mapstructure:"PROVISIONING_TIMEOUT"`
	CompensationTimeout time.Duration `mapstructure:"COMPENSATION_TIMEOUT"`

	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	RateLimitRequests int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
}

// defaultLocalSigningKey is for development only; production refuses the
// local provider entirely.
const defaultLocalSigningKey = "dev-local-identity-key-change-me"

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env.
func Load() (*Config, error) {
	e, err := readEnv()
	if err != nil {
		return nil, err
	}
	cfg, err := e.assemble()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database section, for tools that do not run
// the full service.
func LoadDatabase() (DatabaseConfig, error) {
	e, err := readEnv()
	if err != nil {
		return DatabaseConfig{}, err
	}
	cfg, err := e.assemble()
	if err != nil {
		return DatabaseConfig{}, err
	}
	return cfg.Database, nil
}

func readEnv() (env, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	// AutomaticEnv only binds keys Viper already knows, so every key gets a default.
	v.SetDefault("ADDR", ":8080")
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_DRIVER", DriverPgx)
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")
	v.SetDefault("IDENTITY_PROVIDER", IdentityLocal)
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_CLIENT_EMAIL", "")
	v.SetDefault("FIREBASE_PRIVATE_KEY", "")
	v.SetDefault("FIREBASE_API_BASE_URL", "")
	v.SetDefault("LOCAL_IDENTITY_SIGNING_KEY", defaultLocalSigningKey)
	v.SetDefault("LOCAL_IDENTITY_TOKEN_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PROVISIONING_TIMEOUT", "15s")
	v.SetDefault("COMPENSATION_TIMEOUT", "10s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "nexus-audit")
	v.SetDefault("RATE_LIMIT_REQUESTS", 30)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return env{}, fmt.Errorf("config: %w", err)
	}
	return e, nil
}

func (e env) assemble() (*Config, error) {
	proxies, err := parsePrefixes(splitList(e.TrustedProxies))
	if err != nil {
		return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	return &Config{
		Server: Server{
			Addr:           e.Addr,
			Env:            strings.ToLower(strings.TrimSpace(e.AppEnv)),
			LogLevel:       e.LogLevel,
			TrustedProxies: proxies,
		},
		Database: DatabaseConfig{
			URL:             e.DatabaseURL,
			Driver:          e.DatabaseDriver,
			MaxOpenConns:    e.DBMaxOpenConns,
			MaxIdleConns:    e.DBMaxIdleConns,
			ConnMaxLifetime: e.DBConnMaxLifetime,
			MigrateOnStart:  e.MigrateOnStart,
		},
		Redis: RedisConfig{
			URL:          e.RedisURL,
			PoolSize:     e.RedisPoolSize,
			MinIdleConns: e.RedisMinIdleConns,
			DialTimeout:  e.RedisDialTimeout,
			ReadTimeout:  e.RedisReadTimeout,
			WriteTimeout: e.RedisWriteTimeout,
		},
		Identity: IdentityConfig{
			Provider: strings.ToLower(strings.TrimSpace(e.IdentityProvider)),
			Firebase: FirebaseConfig{
				ProjectID:   e.FirebaseProjectID,
				ClientEmail: e.FirebaseClientEmail,
				PrivateKey:  e.FirebasePrivateKey,
				APIBaseURL:  e.FirebaseAPIBaseURL,
			},
			Local: LocalIdentityConfig{
				SigningKey: e.LocalSigningKey,
				TokenTTL:   e.LocalTokenTTL,
				BcryptCost: e.BcryptCost,
			},
		},
		Tenant: TenantConfig{
			ProvisioningTimeout: e.ProvisioningTimeout,
			CompensationTimeout: e.CompensationTimeout,
		},
		Audit: AuditConfig{
			KafkaBrokers: splitList(e.KafkaBrokers),
			KafkaTopic:   e.AuditKafkaTopic,
		},
		RateLimit: RateLimitConfig{
			Requests: e.RateLimitRequests,
			Window:   e.RateLimitWindow,
		},
	}, nil
}

// Validate enforces cross-field rules.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: ADDR must be set")
	}

	switch c.Database.Driver {
	case DriverPgx, DriverPostgres:
	default:
		return fmt.Errorf("config: DATABASE_DRIVER must be %q or %q", DriverPgx, DriverPostgres)
	}
	if c.IsProduction() && c.Database.URL == "" {
		return errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}

	switch c.Identity.Provider {
	case IdentityFirebase:
		fb := c.Identity.Firebase
		if fb.ProjectID == "" || fb.ClientEmail == "" || fb.PrivateKey == "" {
			return errors.New("config: firebase requires FIREBASE_PROJECT_ID, FIREBASE_CLIENT_EMAIL and FIREBASE_PRIVATE_KEY")
		}
	case IdentityLocal:
		if c.IsProduction() {
			return errors.New("config: IDENTITY_PROVIDER=local must not be used when APP_ENV=production")
		}
		if c.Redis.URL == "" {
			return errors.New("config: IDENTITY_PROVIDER=local requires REDIS_URL")
		}
		if len(c.Identity.Local.SigningKey) < 16 {
			return errors.New("config: LOCAL_IDENTITY_SIGNING_KEY must be at least 16 bytes")
		}
		if cost := c.Identity.Local.BcryptCost; cost < 4 || cost > 31 {
			return errors.New("config: BCRYPT_COST must be between 4 and 31")
		}
	default:
		return fmt.Errorf("config: IDENTITY_PROVIDER must be %q or %q", IdentityFirebase, IdentityLocal)
	}

	if c.Tenant.ProvisioningTimeout <= 0 || c.Tenant.CompensationTimeout <= 0 {
		return errors.New("config: PROVISIONING_TIMEOUT and COMPENSATION_TIMEOUT must be positive")
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.KafkaTopic == "" {
		return errors.New("config: AUDIT_KAFKA_TOPIC must be set when KAFKA_BROKERS is set")
	}
	if c.RateLimit.Requests < 0 {
		return errors.New("config: RATE_LIMIT_REQUESTS must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return errors.New("config: RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePrefixes accepts CIDRs and bare addresses; a bare address is a
// single-host prefix.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
