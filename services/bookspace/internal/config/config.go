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

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// EnvFile is loaded into the environment, if present, before overrides apply.
const EnvFile = ".env"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	CatalogBaseURL       string  `yaml:"catalogBaseURL"`
	CatalogAPIKey        string  `yaml:"catalogAPIKey"`
	CatalogTimeout       string  `yaml:"catalogTimeout"`
	CatalogRatePerSecond float64 `yaml:"catalogRatePerSecond"`
	CatalogProxy         string  `yaml:"catalogProxy"`
	UserAgent            string  `yaml:"userAgent"`

	StorageDriver  string `yaml:"storageDriver"`
	StoragePath    string `yaml:"storagePath"`
	DatabaseURL    string `yaml:"databaseURL"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisPrefix    string `yaml:"redisPrefix"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL           string `yaml:"amqpURL"`
	AMQPExchange      string `yaml:"amqpExchange"`
	EventStream       string `yaml:"eventStream"`
	EventStreamMaxLen int64  `yaml:"eventStreamMaxLen"`

	SearchRateLimitPerMinute int      `yaml:"searchRateLimitPerMinute"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	CORSAllowOrigin          string   `yaml:"corsAllowOrigin"`
}

// Defaults returns the configuration used when a key is left empty.
func Defaults() FileConfig {
	return FileConfig{
		Port:           "8080",
		LogLevel:       "info",
		CatalogTimeout: "15s",
		StorageDriver:  "file",
		StoragePath:    "data/library.json",
		RedisPrefix:    "bookspace:kv:",
		AMQPExchange:   "bookspace.library",
	}
}

// Load reads config from path (defaults to config.yaml). A missing file is
// tolerated only for the default path, so a bare checkout runs on defaults.
func Load(path string) (FileConfig, error) {
	cfg := Defaults()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ConfigPath
	}
	_ = godotenv.Load(EnvFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("BOOKSPACE_PORT", &cfg.Port)
	setString("BOOKSPACE_LOG_LEVEL", &cfg.LogLevel)
	setString("GOOGLE_BOOKS_API_KEY", &cfg.CatalogAPIKey)
	setString("BOOKSPACE_CATALOG_BASE_URL", &cfg.CatalogBaseURL)
	setString("BOOKSPACE_CATALOG_PROXY", &cfg.CatalogProxy)
	setString("BOOKSPACE_STORAGE_DRIVER", &cfg.StorageDriver)
	setString("BOOKSPACE_STORAGE_PATH", &cfg.StoragePath)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("AMQP_URL", &cfg.AMQPURL)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("BOOKSPACE_SEARCH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SearchRateLimitPerMinute = n
		}
	}
}

// CatalogTimeoutDuration parses catalogTimeout. Empty means zero, which lets
// the catalog client pick its default.
func (c FileConfig) CatalogTimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.CatalogTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: catalogTimeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: catalogTimeout must not be negative")
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or BOOKSPACE_PORT)")
	}
	if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("config: port %q is not a valid TCP port", cfg.Port)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logLevel %q must be debug, info, warn or error", cfg.LogLevel)
	}
	if _, err := cfg.CatalogTimeoutDuration(); err != nil {
		return err
	}
	if cfg.CatalogRatePerSecond < 0 {
		return errors.New("config: catalogRatePerSecond must not be negative")
	}
	if cfg.SearchRateLimitPerMinute < 0 {
		return errors.New("config: searchRateLimitPerMinute must not be negative")
	}
	if cfg.SearchRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when searchRateLimitPerMinute is set")
	}
	if cfg.EventStream != "" && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when eventStream is set")
	}

	switch strings.ToLower(cfg.StorageDriver) {
	case "memory":
	case "", "file":
		if cfg.StoragePath == "" {
			return errors.New("config: storagePath is required for the file storage driver")
		}
	case "sql":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the sql storage driver (or DATABASE_URL)")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis storage driver (or REDIS_ADDR)")
		}
	case "minio":
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required for the minio storage driver")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required for the minio storage driver")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required for the minio storage driver")
		}
	default:
		return fmt.Errorf("config: storageDriver %q must be memory, file, redis, sql or minio", cfg.StorageDriver)
	}
	return nil
}
