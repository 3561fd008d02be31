// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	mode       = pflag.String("mode", "all", "Which part of the app to run (all, api, worker)")
	configPath = pflag.String("config", ".", "Directory containing config.toml")

	validLogLevels    = []string{"debug", "info", "warn", "error", "fatal"}
	validStorageTypes = []string{"s3", "r2", "local"}
	validDBTypes      = []string{"sqlite", "postgres"}
	validModes        = []string{"all", "api", "worker"}
	validClaims       = []string{"sub", "exp", "iat", "iss", "nbf", "aud", "jti"}
)

type Config struct {
	App struct {
		LogLevel string `mapstructure:"log_level"`
		Mode     string `mapstructure:"mode"`
	} `mapstructure:"app"`

	Host struct {
		Port        int      `mapstructure:"port"`
		CorsOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"host"`

	DB struct {
		Type string `mapstructure:"type"`
		Path string `mapstructure:"path"`
		DSN  string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	Storage struct {
		Type           string        `mapstructure:"type"`
		Root           string        `mapstructure:"root"`
		LocalPath      string        `mapstructure:"local_path"`
		MaxUsage       int64         `mapstructure:"max_usage"`
		TrashRetention time.Duration `mapstructure:"trash_retention"`
	} `mapstructure:"storage"`

	AWS struct {
		AccessKey       string `mapstructure:"access_key"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		Endpoint        string `mapstructure:"endpoint"`
	} `mapstructure:"aws"`

	Cloudflare struct {
		AccountID       string `mapstructure:"account_id"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Bucket          string `mapstructure:"bucket"`
	} `mapstructure:"cloudflare"`

	Upload struct {
		MaxSize       int64         `mapstructure:"max_size"`
		AllowedTypes  []string      `mapstructure:"allowed_types"`
		SessionTTL    time.Duration `mapstructure:"session_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"upload"`

	JWT struct {
		Issuer         string        `mapstructure:"issuer"`
		TokenTTL       time.Duration `mapstructure:"token_ttl"`
		MaxTTL         time.Duration `mapstructure:"max_ttl"`
		Leeway         time.Duration `mapstructure:"leeway"`
		RequiredClaims []string      `mapstructure:"required_claims"`
	} `mapstructure:"jwt"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Jobs struct {
		Workers     int    `mapstructure:"workers"`
		MaxQueued   int    `mapstructure:"max_queued"`
		Queue       string `mapstructure:"queue"`
		Concurrency int    `mapstructure:"concurrency"`
	} `mapstructure:"jobs"`

	Tagging struct {
		Enabled       bool          `mapstructure:"enabled"`
		Endpoint      string        `mapstructure:"endpoint"`
		APIKey        string        `mapstructure:"api_key"`
		MinConfidence float64       `mapstructure:"min_confidence"`
		MaxTags       int           `mapstructure:"max_tags"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"tagging"`

	Thumbnail struct {
		Width int `mapstructure:"width"`
	} `mapstructure:"thumbnail"`

	Security struct {
		RateLimit int `mapstructure:"rate_limit"`
	} `mapstructure:"security"`
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	// A missing .env is fine, real deployments use plain env vars
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(*configPath)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "APP_LOG_LEVEL")
	v.BindEnv("app.mode", "APP_MODE")

	v.BindEnv("host.port", "HOST_PORT")
	v.BindEnv("host.cors_origins", "HOST_CORS")

	v.BindEnv("db.type", "DB_TYPE")
	v.BindEnv("db.path", "DB_PATH")
	v.BindEnv("db.dsn", "DB_DSN")

	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.root", "STORAGE_ROOT")
	v.BindEnv("storage.local_path", "STORAGE_LOCAL_PATH")
	v.BindEnv("storage.max_usage", "STORAGE_MAX_USAGE")
	v.BindEnv("storage.trash_retention", "STORAGE_TRASH_RETENTION")

	v.BindEnv("aws.access_key", "AWS_ACCESS_KEY")
	v.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("aws.bucket", "AWS_BUCKET")
	v.BindEnv("aws.endpoint", "AWS_ENDPOINT")

	v.BindEnv("cloudflare.account_id", "CLOUDFLARE_ACCOUNT_ID")
	v.BindEnv("cloudflare.access_key_id", "CLOUDFLARE_ACCESS_KEY_ID")
	v.BindEnv("cloudflare.secret_access_key", "CLOUDFLARE_SECRET_ACCESS_KEY")
	v.BindEnv("cloudflare.bucket", "CLOUDFLARE_BUCKET")

	v.BindEnv("upload.max_size", "UPLOAD_MAX_SIZE")
	v.BindEnv("upload.allowed_types", "UPLOAD_ALLOWED_TYPES")
	v.BindEnv("upload.session_ttl", "UPLOAD_SESSION_TTL")
	v.BindEnv("upload.sweep_interval", "UPLOAD_SWEEP_INTERVAL")

	v.BindEnv("jwt.issuer", "JWT_ISSUER")
	v.BindEnv("jwt.token_ttl", "JWT_TOKEN_TTL")
	v.BindEnv("jwt.max_ttl", "JWT_MAX_TTL")
	v.BindEnv("jwt.leeway", "JWT_LEEWAY")
	v.BindEnv("jwt.required_claims", "JWT_REQUIRED_CLAIMS")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("jobs.workers", "JOBS_WORKERS")
	v.BindEnv("jobs.max_queued", "JOBS_MAX_QUEUED")

	v.BindEnv("tagging.enabled", "TAGGING_ENABLED")
	v.BindEnv("tagging.endpoint", "TAGGING_ENDPOINT")
	v.BindEnv("tagging.api_key", "TAGGING_API_KEY")

	v.BindEnv("security.rate_limit", "SECURITY_RATE_LIMIT")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.mode", *mode)

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.type", "sqlite")
	v.SetDefault("db.path", "database.db")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.root", "assets")
	v.SetDefault("storage.local_path", "data")
	v.SetDefault("storage.max_usage", 0)
	v.SetDefault("storage.trash_retention", "720h")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("upload.max_size", 2048)
	v.SetDefault("upload.allowed_types", []string{"image/*", "video/*", "audio/*", "application/pdf"})
	v.SetDefault("upload.session_ttl", "6h")
	v.SetDefault("upload.sweep_interval", "30m")

	v.SetDefault("jwt.issuer", "asset-api")
	v.SetDefault("jwt.token_ttl", "24h")
	v.SetDefault("jwt.max_ttl", "720h")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("jwt.required_claims", []string{"sub", "exp", "iat"})

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.max_queued", 256)
	v.SetDefault("jobs.queue", "assets")
	v.SetDefault("jobs.concurrency", 4)

	v.SetDefault("tagging.enabled", false)
	v.SetDefault("tagging.min_confidence", 0.4)
	v.SetDefault("tagging.max_tags", 15)
	v.SetDefault("tagging.timeout", "60s")

	v.SetDefault("thumbnail.width", 400)

	v.SetDefault("security.rate_limit", 20)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: config.toml not found, using defaults and environment variables")
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if !slices.Contains(validModes, v.GetString("app.mode")) {
		return errors.New("invalid mode provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDBTypes, v.GetString("db.type")) {
		return errors.New("invalid database type provided")
	}

	if v.GetString("db.type") == "postgres" && v.GetString("db.dsn") == "" {
		return errors.New("db.dsn can't be empty when using postgres")
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	warnAnyType(os.Stdout, v.GetStringSlice("upload.allowed_types"))

	if v.GetDuration("upload.session_ttl") <= 0 {
		return errors.New("upload.session_ttl must be bigger than 0")
	}

	if v.GetDuration("upload.sweep_interval") <= 0 {
		return errors.New("upload.sweep_interval must be bigger than 0")
	}

	if v.GetDuration("jwt.token_ttl") <= 0 {
		return errors.New("jwt.token_ttl must be bigger than 0")
	}

	if v.GetDuration("jwt.leeway") < 0 {
		return errors.New("jwt.leeway can't be negative")
	}

	for _, c := range v.GetStringSlice("jwt.required_claims") {
		if !slices.Contains(validClaims, c) {
			return fmt.Errorf("unsupported required claim '%s'", c)
		}
	}

	if c := v.GetFloat64("tagging.min_confidence"); c < 0 || c > 1 {
		return errors.New("tagging.min_confidence must be between 0 and 1")
	}

	if v.GetBool("tagging.enabled") && v.GetString("tagging.endpoint") == "" {
		return errors.New("tagging.endpoint can't be empty when tagging is enabled")
	}

	if v.GetInt("jobs.workers") <= 0 {
		return errors.New("jobs.workers must be bigger than 0")
	}

	if v.GetString("app.mode") == "worker" && v.GetString("redis.addr") == "" {
		return errors.New("worker mode requires redis.addr")
	}

	switch v.GetString("storage.type") {
	case "s3":
		{
			if v.GetString("aws.access_key") == "" {
				return errors.New("aws access key can't be empty")
			}
			if v.GetString("aws.secret_access_key") == "" {
				return errors.New("aws secret access key can't be empty")
			}
			if v.GetString("aws.bucket") == "" {
				return errors.New("bucket can't be empty")
			}
		}
	case "r2":
		{
			if v.GetString("cloudflare.account_id") == "" {
				return errors.New("account id can't be empty")
			}
			if v.GetString("cloudflare.access_key_id") == "" {
				return errors.New("account access id can't be empty")
			}
			if v.GetString("cloudflare.secret_access_key") == "" {
				return errors.New("secret access key can't be empty")
			}
			if v.GetString("cloudflare.bucket") == "" {
				return errors.New("bucket can't be empty")
			}
		}
	case "local":
		{
			if err := os.MkdirAll(v.GetString("storage.local_path"), 0o755); err != nil {
				return fmt.Errorf("failed to create local storage directory, %w", err)
			}
		}
	}

	if !slices.Contains(validStorageTypes, v.GetString("storage.type")) {
		return errors.New("invalid storage type provided")
	}

	if v.GetInt64("storage.max_usage") < 0 {
		return errors.New("max usage can't be negative")
	}

	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)
	v.Set("storage.max_usage", v.GetInt64("storage.max_usage")<<20)
	return nil
}

// Get returns the typed configuration. Setup has to be called first.
func Get() (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config, %w", err)
	}

	return &c, nil
}

// The logger isn't built while the config loads, so this goes straight to
// stdout like the other config warnings
func warnAnyType(w io.Writer, types []string) {
	if len(types) == 0 {
		fmt.Fprintln(w, "[WARNING]: No upload.allowed_types specified, any file type will be accepted")
	}
}
