// Package config loads runtime settings from .env, the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

type Config struct {
	Env  string `yaml:"env"`
	Port string `yaml:"port"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	StoreDriver       string `yaml:"store_driver"`
	MongoURI          string `yaml:"mongo_uri"`
	MongoDatabase     string `yaml:"mongo_database"`
	MongoTransactions bool   `yaml:"mongo_transactions"`
	SQLitePath        string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	BlobDir       string `yaml:"blob_dir"`
	PublicBaseURL string `yaml:"public_base_url"`

	FeedConcurrency int `yaml:"feed_concurrency"`
	FeedMaxUsers    int `yaml:"feed_max_users"`
	FeedPageMax     int `yaml:"feed_page_max"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Env:             "development",
		Port:            ":8080",
		TokenTTL:        12 * time.Hour,
		StoreDriver:     DriverSQLite,
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "wordcraft",
		SQLitePath:      "data/wordcraft.db",
		BlobDir:         "static",
		PublicBaseURL:   "http://localhost:8080",
		FeedConcurrency: 8,
		FeedMaxUsers:    1000,
		FeedPageMax:     50,
		RetryAttempts:   4,
		RetryBaseDelay:  50 * time.Millisecond,
		RetryMaxDelay:   time.Second,
		RequestTimeout:  10 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		AllowedOrigins:  []string{"*"},
		LogLevel:        "info",
	}
}

// Load builds the configuration: defaults, then .env and the environment,
// then the YAML file named by CONFIG_FILE.
func Load() (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.Port = normalizePort(cfg.Port)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("APP_ENV", &c.Env)
	str("PORT", &c.Port)
	str("JWT_SECRET", &c.JWTSecret)
	str("STORE_DRIVER", &c.StoreDriver)
	str("MONGO_URI", &c.MongoURI)
	str("MONGO_DATABASE", &c.MongoDatabase)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("BLOB_DIR", &c.BlobDir)
	str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	str("LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	var errs []error
	durations := map[string]*time.Duration{
		"TOKEN_TTL":        &c.TokenTTL,
		"RETRY_BASE_DELAY": &c.RetryBaseDelay,
		"RETRY_MAX_DELAY":  &c.RetryMaxDelay,
		"REQUEST_TIMEOUT":  &c.RequestTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"FEED_CONCURRENCY": &c.FeedConcurrency,
		"FEED_MAX_USERS":   &c.FeedMaxUsers,
		"FEED_PAGE_MAX":    &c.FeedPageMax,
		"RETRY_ATTEMPTS":   &c.RetryAttempts,
		"RATE_LIMIT_BURST": &c.RateLimitBurst,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		} else {
			c.RateLimitRPS = f
		}
	}
	if v := os.Getenv("MONGO_TRANSACTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MONGO_TRANSACTIONS: %w", err))
		} else {
			c.MongoTransactions = b
		}
	}
	return errors.Join(errs...)
}

// applyFile overlays the non-zero values of a YAML file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.merge(file)
	return nil
}

func (c *Config) merge(o Config) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	setStr(&c.Env, o.Env)
	setStr(&c.Port, o.Port)
	setStr(&c.JWTSecret, o.JWTSecret)
	setDur(&c.TokenTTL, o.TokenTTL)
	setStr(&c.StoreDriver, o.StoreDriver)
	setStr(&c.MongoURI, o.MongoURI)
	setStr(&c.MongoDatabase, o.MongoDatabase)
	if o.MongoTransactions {
		c.MongoTransactions = true
	}
	setStr(&c.SQLitePath, o.SQLitePath)
	setStr(&c.RedisAddr, o.RedisAddr)
	setStr(&c.RedisPassword, o.RedisPassword)
	setStr(&c.BlobDir, o.BlobDir)
	setStr(&c.PublicBaseURL, o.PublicBaseURL)
	setInt(&c.FeedConcurrency, o.FeedConcurrency)
	setInt(&c.FeedMaxUsers, o.FeedMaxUsers)
	setInt(&c.FeedPageMax, o.FeedPageMax)
	setInt(&c.RetryAttempts, o.RetryAttempts)
	setDur(&c.RetryBaseDelay, o.RetryBaseDelay)
	setDur(&c.RetryMaxDelay, o.RetryMaxDelay)
	setDur(&c.RequestTimeout, o.RequestTimeout)
	if o.RateLimitRPS != 0 {
		c.RateLimitRPS = o.RateLimitRPS
	}
	setInt(&c.RateLimitBurst, o.RateLimitBurst)
	if len(o.AllowedOrigins) > 0 {
		c.AllowedOrigins = o.AllowedOrigins
	}
	setStr(&c.LogLevel, o.LogLevel)
}

func (c Config) IsDevelopment() bool { return c.Env == "" || c.Env == "development" }

func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.FeedConcurrency < 1 {
		errs = append(errs, errors.New("FEED_CONCURRENCY must be at least 1"))
	}
	if c.FeedPageMax < 1 {
		errs = append(errs, errors.New("FEED_PAGE_MAX must be at least 1"))
	}
	return errors.Join(errs...)
}

// Secret returns the signing key, with a fixed key for local development.
func (c Config) Secret() []byte {
	if c.JWTSecret == "" {
		return []byte("wordcraft-dev-secret")
	}
	return []byte(c.JWTSecret)
}

func normalizePort(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] != ':' && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
