// Package config loads service settings from an optional YAML file, an
// optional .env file and the process environment, in increasing precedence.
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

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Encodings EncodingsConfig `yaml:"encodings"`
	Matching  MatchingConfig  `yaml:"matching"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	LogLevel  string          `yaml:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres, mysql or sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type ExtractorConfig struct {
	Kind         string `yaml:"kind"` // grpc or dlib
	Addr         string `yaml:"addr"`
	ModelsDir    string `yaml:"models_dir"`
	MaxImageSide uint   `yaml:"max_image_side"`
}

type EncodingsConfig struct {
	Backend  string `yaml:"backend"` // disk or s3
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
	// S3Endpoint is set for S3-compatible stores such as MinIO.
	S3Endpoint string `yaml:"s3_endpoint"`
	// S3UnconditionalCreate is for stores that reject If-None-Match writes.
	S3UnconditionalCreate bool `yaml:"s3_unconditional_create"`
}

type MatchingConfig struct {
	Tolerance       float64 `yaml:"tolerance"`
	IdentifyWorkers int     `yaml:"identify_workers"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

type ReconcileConfig struct {
	Cron        string        `yaml:"cron"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxUploadBytes:  10 << 20,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			DSN:          "host=postgres user=postgres password=postgres dbname=attendance port=5432 sslmode=disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis:     RedisConfig{Addr: "redis:6379"},
		Extractor: ExtractorConfig{Kind: "grpc", Addr: "face-extractor:50051", ModelsDir: "models", MaxImageSide: 1024},
		Encodings: EncodingsConfig{Backend: "disk", Dir: "encodings"},
		Matching:  MatchingConfig{Tolerance: 0.6, IdentifyWorkers: 8},
		Reconcile: ReconcileConfig{Cron: "0 3 * * *", GracePeriod: time.Hour},
		LogLevel:  "info",
	}
}

// Load builds and validates the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated builds the configuration without checking it. Offline
// tools use it and validate only the sections they touch.
func LoadUnvalidated() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("ATTENDANCE_CONFIG"); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.HTTP.MaxUploadBytes)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.HTTP.CORSOrigins = splitList(origins)
	}

	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	c.Extractor.Kind = getEnv("EXTRACTOR_KIND", c.Extractor.Kind)
	c.Extractor.Addr = getEnv("EXTRACTOR_ADDR", c.Extractor.Addr)
	c.Extractor.ModelsDir = getEnv("DLIB_MODELS_DIR", c.Extractor.ModelsDir)
	c.Extractor.MaxImageSide = uint(envInt("MAX_IMAGE_SIDE", int(c.Extractor.MaxImageSide)))

	c.Encodings.Backend = getEnv("ENCODING_BACKEND", c.Encodings.Backend)
	c.Encodings.Dir = getEnv("ENCODING_DIR", c.Encodings.Dir)
	c.Encodings.S3Bucket = getEnv("S3_BUCKET", c.Encodings.S3Bucket)
	c.Encodings.S3Region = getEnv("S3_REGION", c.Encodings.S3Region)
	c.Encodings.S3Prefix = getEnv("S3_PREFIX", c.Encodings.S3Prefix)
	c.Encodings.S3Endpoint = getEnv("S3_ENDPOINT", c.Encodings.S3Endpoint)
	if v, err := strconv.ParseBool(os.Getenv("S3_UNCONDITIONAL_CREATE")); err == nil {
		c.Encodings.S3UnconditionalCreate = v
	}

	c.Matching.Tolerance = envFloat("MATCH_TOLERANCE", c.Matching.Tolerance)
	c.Matching.IdentifyWorkers = envInt("IDENTIFY_WORKERS", c.Matching.IdentifyWorkers)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)

	c.Reconcile.Cron = getEnv("RECONCILE_CRON", c.Reconcile.Cron)
	if grace, err := time.ParseDuration(os.Getenv("RECONCILE_GRACE_PERIOD")); err == nil && grace > 0 {
		c.Reconcile.GracePeriod = grace
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Extractor.Kind {
	case "grpc", "dlib":
	default:
		errs = append(errs, fmt.Errorf("unsupported extractor kind %q", c.Extractor.Kind))
	}
	switch c.Encodings.Backend {
	case "disk":
		if c.Encodings.Dir == "" {
			errs = append(errs, errors.New("encoding dir is required for the disk backend"))
		}
	case "s3":
		if c.Encodings.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported encoding backend %q", c.Encodings.Backend))
	}
	if c.Matching.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("match tolerance must be positive, got %v", c.Matching.Tolerance))
	}
	if c.Matching.IdentifyWorkers <= 0 {
		errs = append(errs, fmt.Errorf("identify workers must be positive, got %d", c.Matching.IdentifyWorkers))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
