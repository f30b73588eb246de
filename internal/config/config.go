// Package config loads application settings.
//
// SOURCES, lowest to highest precedence:
//  1. defaults set in Load
//  2. an optional YAML file (CONFIG_PATH)
//  3. a .env file in the working directory (loaded into the process env)
//  4. real environment variables
//
// Nested keys map to env names with "." replaced by "_", so "mongo.uri" is
// MONGO_URI and "s3.bucket" is S3_BUCKET.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Store struct {
	Driver     string `mapstructure:"driver"` // "mongo" or "sqlite"
	SQLitePath string `mapstructure:"sqlite_path"`
}

type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Assets struct {
	Driver       string `mapstructure:"driver"` // "s3" or "local"
	TempDir      string `mapstructure:"temp_dir"`
	LocalDir     string `mapstructure:"local_dir"`
	LocalBaseURL string `mapstructure:"local_base_url"`
}

type S3 struct {
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type Redis struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ChannelTTL time.Duration `mapstructure:"channel_ttl"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type GitHub struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

// Config is built once in main and passed down by value.
type Config struct {
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"cors_origin"`

	AccessTokenSecret  string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"`
	CookieSecure       bool          `mapstructure:"cookie_secure"`

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers; otherwise
	// clients pick their own rate-limit bucket.
	TrustProxy bool `mapstructure:"trust_proxy"`

	JSONBodyLimit      int64 `mapstructure:"json_body_limit"`
	MultipartMaxMemory int64 `mapstructure:"multipart_max_memory"`
	UploadMaxBytes     int64 `mapstructure:"upload_max_bytes"`

	Store     Store     `mapstructure:"store"`
	Mongo     Mongo     `mapstructure:"mongo"`
	Assets    Assets    `mapstructure:"assets"`
	S3        S3        `mapstructure:"s3"`
	Redis     Redis     `mapstructure:"redis"`
	Log       Log       `mapstructure:"log"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	GitHub    GitHub    `mapstructure:"github"`
}

// defaults doubles as the list of keys viper binds to the environment:
// AutomaticEnv only reaches keys viper already knows about when unmarshalling.
var defaults = map[string]any{
	"port":                 8000,
	"cors_origin":          "http://localhost:5173",
	"access_token_secret":  "",
	"refresh_token_secret": "",
	"access_token_expiry":  "15m",
	"refresh_token_expiry": "240h",
	"cookie_secure":        true,
	"trust_proxy":          false,
	"json_body_limit":      16 << 10,
	"multipart_max_memory": 8 << 20,
	"upload_max_bytes":     20 << 20,

	"store.driver":      "mongo",
	"store.sqlite_path": "data/channelhub.db",

	"mongo.uri":      "mongodb://localhost:27017",
	"mongo.database": "channelhub",

	"assets.driver":         "local",
	"assets.temp_dir":       "",
	"assets.local_dir":      "public/uploads",
	"assets.local_base_url": "http://localhost:8000/uploads",

	"s3.bucket":          "",
	"s3.region":          "us-east-1",
	"s3.endpoint":        "",
	"s3.access_key":      "",
	"s3.secret_key":      "",
	"s3.public_base_url": "",

	"redis.addr":        "",
	"redis.password":    "",
	"redis.db":          0,
	"redis.channel_ttl": "30s",

	"log.level":        "info",
	"log.json":         false,
	"log.file":         "",
	"log.max_size_mb":  50,
	"log.max_backups":  5,
	"log.max_age_days": 14,
	"log.compress":     true,

	"rate_limit.rps":   5.0,
	"rate_limit.burst": 10,

	"github.client_id":     "",
	"github.client_secret": "",
	"github.callback_url":  "http://localhost:8000/api/v1/users/auth/github/callback",
}

// Load reads configuration. path may be empty, in which case CONFIG_PATH is
// consulted; a missing file is only an error when a path was given.
func Load(path string) (*Config, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if len(c.AccessTokenSecret) < 16 {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET must be at least 16 characters"))
	}
	if len(c.RefreshTokenSecret) < 16 {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET must be at least 16 characters"))
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		errs = append(errs, errors.New("token expiries must be positive"))
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo store"))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("STORE_SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Assets.Driver {
	case "s3":
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 asset driver"))
		}
	case "local":
		if c.Assets.LocalDir == "" {
			errs = append(errs, errors.New("ASSETS_LOCAL_DIR is required for the local asset driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSETS_DRIVER %q", c.Assets.Driver))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// GitHubEnabled reports whether GitHub sign-in should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

// RedisEnabled reports whether the channel profile cache should be used.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
