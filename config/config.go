package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Reporter   ReporterConfig   `mapstructure:"reporter"`
	Order      OrderConfig      `mapstructure:"order"`
	BuyerLimit BuyerLimitConfig `mapstructure:"buyer_limit"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
	// CIDRs or IPs of reverse proxies whose X-Forwarded-For is trusted.
	// Empty means client addresses come from the TCP peer.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// ReporterConfig authenticates the external settlement-evidence reporter.
type ReporterConfig struct {
	KeyID    string        `mapstructure:"key_id"`
	Secret   string        `mapstructure:"secret"`
	MaxDrift time.Duration `mapstructure:"max_drift"`
	NonceTTL time.Duration `mapstructure:"nonce_ttl"`
}

// Enabled reports whether the evidence endpoint should be mounted.
func (r ReporterConfig) Enabled() bool {
	return r.KeyID != "" && r.Secret != ""
}

// OrderConfig tunes the order-number allocation unit of work.
type OrderConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	TxTimeout    time.Duration `mapstructure:"tx_timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type BuyerLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type PaymentConfig struct {
	ExpiryOptions        []int `mapstructure:"expiry_options"`
	DefaultExpiryMinutes int   `mapstructure:"default_expiry_minutes"`
	DefaultPageSize      int   `mapstructure:"default_page_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PLG_ (Payment Link Gateway).
// Nested keys use underscore: PLG_DATABASE_HOST, PLG_REPORTER_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_links")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "3s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "payment-link-gateway")
	v.SetDefault("reporter.key_id", "")
	v.SetDefault("reporter.secret", "")
	v.SetDefault("reporter.max_drift", "60s")
	v.SetDefault("reporter.nonce_ttl", "120s")
	v.SetDefault("order.max_attempts", 5)
	v.SetDefault("order.tx_timeout", "5s")
	v.SetDefault("order.retry_backoff", "15ms")
	v.SetDefault("buyer_limit.window", "1h")
	v.SetDefault("payment.expiry_options", []int{15, 30, 60, 120})
	v.SetDefault("payment.default_expiry_minutes", 60)
	v.SetDefault("payment.default_page_size", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// PLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Order.MaxAttempts < 1 {
		return fmt.Errorf("order.max_attempts must be >= 1, got %d", c.Order.MaxAttempts)
	}
	if len(c.Payment.ExpiryOptions) == 0 {
		return fmt.Errorf("payment.expiry_options must not be empty")
	}
	for _, m := range c.Payment.ExpiryOptions {
		if m <= 0 {
			return fmt.Errorf("payment.expiry_options contains non-positive value %d", m)
		}
	}
	if c.BuyerLimit.Window <= 0 {
		return fmt.Errorf("buyer_limit.window must be positive")
	}
	return nil
}
