// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/gateway/mpesa"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	JWT       JWTConfig
	Fees      FeesConfig
	Mpesa     mpesa.Config
	Gateway   GatewayConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// CallbackRateLimit caps gateway callback requests per second per IP.
	CallbackRateLimit float64
}

type StoreConfig struct {
	Driver   string // postgres or memory
	SeedFile string // accounts to load into the memory store
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

func (r RabbitMQConfig) Enabled() bool { return r.URL != "" }

type JWTConfig struct {
	Secret string
}

type FeesConfig struct {
	Rate escrow.FeeRate
}

type GatewayConfig struct {
	InitiateTimeout time.Duration
	QueryTimeout    time.Duration
}

type ReconcileConfig struct {
	SweepInterval time.Duration
	PollAfter     time.Duration
	PushExpiry    time.Duration
	PayoutExpiry  time.Duration
	BatchSize     int
	LockTTL       time.Duration
	// ConfirmPush checks push successes reported by callback with a status
	// query before crediting them.
	ConfirmPush bool
}

// Load reads .env when present and builds the configuration from the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	fee, err := escrow.ParseFeeRate(getEnv("PLATFORM_FEE_RATE", "0.10"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_RATE: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               getEnv("ENVIRONMENT", "development"),
			LogLevel:          getEnv("LOG_LEVEL", ""),
			CallbackRateLimit: getFloat("CALLBACK_RATE_LIMIT", 20, &errs),
		},
		Store: StoreConfig{
			Driver:   getEnv("STORE_DRIVER", "postgres"),
			SeedFile: getEnv("STORE_SEED_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getInt("DB_PORT", 5432, &errs),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "moverspay"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getInt("DB_MAX_CONNS", 10, &errs)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0, &errs),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "moverspay.events"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Fees: FeesConfig{Rate: fee},
		Mpesa: mpesa.Config{
			Environment:      getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:          getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:      getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:   getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:        getEnv("MPESA_SHORT_CODE", ""),
			Passkey:          getEnv("MPESA_PASSKEY", ""),
			AccountReference: getEnv("MPESA_ACCOUNT_REFERENCE", "MoversPay"),

			B2CConsumerKey:        getEnv("B2C_CONSUMER_KEY", ""),
			B2CConsumerSecret:     getEnv("B2C_CONSUMER_SECRET", ""),
			B2CShortCode:          getEnv("B2C_SHORT_CODE", ""),
			B2CInitiatorName:      getEnv("B2C_INITIATOR_NAME", ""),
			B2CSecurityCredential: getEnv("B2C_SECURITY_CREDENTIAL", ""),

			CallbackBaseURL:   getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
			CallbackSecret:    getEnv("MPESA_CALLBACK_SECRET", ""),
			RequestTimeout:    getDuration("MPESA_HTTP_TIMEOUT", 30*time.Second, &errs),
			RequestsPerSecond: getFloat("MPESA_REQUESTS_PER_SECOND", 10, &errs),
		},
		Gateway: GatewayConfig{
			InitiateTimeout: getDuration("GATEWAY_INITIATE_TIMEOUT", 30*time.Second, &errs),
			QueryTimeout:    getDuration("GATEWAY_QUERY_TIMEOUT", 15*time.Second, &errs),
		},
		Reconcile: ReconcileConfig{
			SweepInterval: getDuration("RECONCILE_SWEEP_INTERVAL", time.Minute, &errs),
			PollAfter:     getDuration("RECONCILE_POLL_AFTER", 2*time.Minute, &errs),
			PushExpiry:    getDuration("RECONCILE_PUSH_EXPIRY", 15*time.Minute, &errs),
			PayoutExpiry:  getDuration("RECONCILE_PAYOUT_EXPIRY", 24*time.Hour, &errs),
			BatchSize:     getInt("RECONCILE_BATCH_SIZE", 100, &errs),
			LockTTL:       getDuration("RECONCILE_LOCK_TTL", 30*time.Second, &errs),
			ConfirmPush:   getBool("RECONCILE_CONFIRM_PUSH", true, &errs),
		},
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Reconcile.PushExpiry <= c.Reconcile.PollAfter {
		errs = append(errs, errors.New("RECONCILE_PUSH_EXPIRY must exceed RECONCILE_POLL_AFTER"))
	}
	if c.Reconcile.PayoutExpiry <= c.Reconcile.PollAfter {
		errs = append(errs, errors.New("RECONCILE_PAYOUT_EXPIRY must exceed RECONCILE_POLL_AFTER"))
	}
	if c.Mpesa.Environment == "production" && c.Mpesa.CallbackSecret == "" {
		errs = append(errs, errors.New("MPESA_CALLBACK_SECRET is required in production"))
	}
	if c.Gateway.InitiateTimeout <= 0 || c.Gateway.QueryTimeout <= 0 {
		errs = append(errs, errors.New("gateway timeouts must be positive"))
	}
	return errs
}

// IsDevelopment reports whether the service runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env != "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
