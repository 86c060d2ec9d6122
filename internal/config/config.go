package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Download DownloadConfig `yaml:"download"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host               string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port               int           `yaml:"port" envconfig:"PORT" default:"3001"`
	ReadTimeout        time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout       time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"20m"`
	AllowedOrigins     []string      `yaml:"allowed_origins" envconfig:"SERVER_ALLOWED_ORIGINS"`
	Development        bool          `yaml:"development" envconfig:"SERVER_DEVELOPMENT" default:"true"`
	ExposeErrorDetails bool          `yaml:"expose_error_details" envconfig:"SERVER_EXPOSE_ERROR_DETAILS" default:"false"`
	APIKey             string        `yaml:"api_key" envconfig:"SERVER_API_KEY"` // empty disables auth
	LogLevel           string        `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info"`
}

// StorageConfig holds temporary artifact storage configuration.
type StorageConfig struct {
	TempPath       string        `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH" default:"./temp"`
	SweepInterval  time.Duration `yaml:"sweep_interval" envconfig:"STORAGE_SWEEP_INTERVAL" default:"10m"`
	MaxArtifactAge time.Duration `yaml:"max_artifact_age" envconfig:"STORAGE_MAX_ARTIFACT_AGE" default:"1h"`
}

// FFmpegConfig holds the external media tool locations.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH" default:"/usr/bin/ffmpeg"`
	FFprobePath string `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH" default:"/usr/bin/ffprobe"`
	CopyCodecs  bool   `yaml:"copy_codecs" envconfig:"FFMPEG_COPY_CODECS" default:"false"`
}

// DownloadConfig holds upstream resolution and fetch configuration.
type DownloadConfig struct {
	UserAgent         string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	AcceptLanguage    string        `yaml:"accept_language" envconfig:"DOWNLOAD_ACCEPT_LANGUAGE" default:"en-US,en;q=0.5"`
	ResolveTimeout    time.Duration `yaml:"resolve_timeout" envconfig:"DOWNLOAD_RESOLVE_TIMEOUT" default:"30s"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" envconfig:"DOWNLOAD_FETCH_TIMEOUT" default:"10m"`
	TrimTimeout       time.Duration `yaml:"trim_timeout" envconfig:"DOWNLOAD_TRIM_TIMEOUT" default:"5m"`
	ReadTimeout       time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"60s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"DOWNLOAD_REQUESTS_PER_SECOND" default:"2"` // 0 disables throttling
	Burst             int           `yaml:"burst" envconfig:"DOWNLOAD_BURST" default:"4"`
	PageFallback      bool          `yaml:"page_fallback" envconfig:"DOWNLOAD_PAGE_FALLBACK" default:"true"`
}

// PipelineConfig bounds the clip pipeline.
type PipelineConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent" envconfig:"PIPELINE_MAX_CONCURRENT" default:"4"`
	MaxClipDuration time.Duration `yaml:"max_clip_duration" envconfig:"PIPELINE_MAX_CLIP_DURATION" default:"10m"`
}

// Load reads configuration from file and environment variables.
// Precedence, lowest first: default tags, the YAML file, set environment variables.
func Load(configPath string) (*Config, error) {
	// Defaults plus environment
	env := &Config{}
	if err := envconfig.Process("", env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg := env
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		merged := *env
		if err := yaml.Unmarshal(data, &merged); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		overrideFromEnv(&merged, env)
		cfg = &merged
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// overrideFromEnv copies into dst every field whose environment variable is
// set. env holds the values envconfig parsed for those variables.
func overrideFromEnv(dst, env *Config) {
	dv := reflect.ValueOf(dst).Elem()
	ev := reflect.ValueOf(env).Elem()
	for i := 0; i < dv.NumField(); i++ {
		section, envSection := dv.Field(i), ev.Field(i)
		fields := section.Type()
		for j := 0; j < fields.NumField(); j++ {
			key := fields.Field(j).Tag.Get("envconfig")
			if key == "" {
				continue
			}
			if _, ok := os.LookupEnv(key); ok {
				section.Field(j).Set(envSection.Field(j))
			}
		}
	}
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}
	if c.FFmpeg.FFmpegPath == "" {
		return fmt.Errorf("FFMPEG_PATH is required")
	}
	if c.FFmpeg.FFprobePath == "" {
		return fmt.Errorf("FFPROBE_PATH is required")
	}
	if c.Download.UserAgent == "" {
		return fmt.Errorf("DOWNLOAD_USER_AGENT is required")
	}
	if c.Download.RequestsPerSecond < 0 {
		return fmt.Errorf("DOWNLOAD_REQUESTS_PER_SECOND must not be negative (0 disables throttling)")
	}
	if c.Download.Burst < 1 {
		return fmt.Errorf("DOWNLOAD_BURST must be at least 1, got %d", c.Download.Burst)
	}
	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("PIPELINE_MAX_CONCURRENT must not be negative")
	}
	if _, err := c.Server.Level(); err != nil {
		return err
	}
	return nil
}

// Limit returns the upstream request rate. Zero means unthrottled.
func (c *DownloadConfig) Limit() rate.Limit {
	if c.RequestsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.RequestsPerSecond)
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level parses LogLevel into a slog level.
func (c *ServerConfig) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
