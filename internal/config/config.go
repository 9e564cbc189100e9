// Package config loads process configuration from defaults, an optional YAML
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported inference backends.
const (
	BackendONNX   = "onnx"
	BackendOpenCV = "opencv"
	BackendTFLite = "tflite"
)

type Config struct {
	Port         int    `yaml:"port"`
	ModelPath    string `yaml:"model_path"`
	MetadataPath string `yaml:"metadata_path"`
	Backend      string `yaml:"backend"`
	OnnxLibrary  string `yaml:"onnx_library"`
	Workers      int    `yaml:"workers"` // ONNX sessions in the pool, TFLite threads
	DatabasePath string `yaml:"database_path"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
	MaxPixels    int    `yaml:"max_image_pixels"`

	RateLimit  float64 `yaml:"rate_limit"` // requests per second on inference routes
	RateBurst  int     `yaml:"rate_burst"`
	CORSOrigin string  `yaml:"cors_origin"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Port:         8080,
		ModelPath:    filepath.Join("models", "model.onnx"),
		MetadataPath: filepath.Join("models", "model_metadata.json"),
		Backend:      BackendONNX,
		Workers:      2,
		DatabasePath: filepath.Join("data", "analyses.db"),
		MaxUploadMB:  10,
		MaxPixels:    50_000_000,
		RateLimit:    5,
		RateBurst:    10,
		CORSOrigin:   "*",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load builds the configuration. path names an optional YAML file; a missing
// .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.MetadataPath = getEnv("METADATA_PATH", c.MetadataPath)
	c.Backend = strings.ToLower(getEnv("MODEL_BACKEND", c.Backend))
	c.OnnxLibrary = getEnv("ONNXRUNTIME_LIB", c.OnnxLibrary)
	c.Workers = getEnvAsInt("MODEL_WORKERS", c.Workers)
	c.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.MaxPixels = getEnvAsInt("MAX_IMAGE_PIXELS", c.MaxPixels)
	c.RateLimit = getEnvAsFloat("RATE_LIMIT", c.RateLimit)
	c.RateBurst = getEnvAsInt("RATE_BURST", c.RateBurst)
	c.CORSOrigin = getEnv("CORS_ORIGIN", c.CORSOrigin)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	// An explicitly empty DB_PATH disables the history store.
	if value, ok := os.LookupEnv("DB_PATH"); ok {
		c.DatabasePath = value
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendONNX, BackendOpenCV, BackendTFLite:
	default:
		return fmt.Errorf("unknown model backend %q", c.Backend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadMB)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max image pixels must be positive, got %d", c.MaxPixels)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("rate limit and burst must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HistoryEnabled reports whether analyses are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.DatabasePath != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
