package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lingtin/lingtin/server/adapters/audio"
	"github.com/lingtin/lingtin/server/adapters/llm"
	"github.com/lingtin/lingtin/server/adapters/mongo"
	"github.com/lingtin/lingtin/server/adapters/postgres"
	"github.com/lingtin/lingtin/server/adapters/stt"
	"github.com/lingtin/lingtin/server/domain/repositories"
	"github.com/lingtin/lingtin/server/internal/recovery"
)

// Provider and driver names
const (
	SpeechXunfei = "xunfei"
	SpeechGoogle = "google"
	SpeechMock   = "mock"

	LLMOpenAI = "openai"
	LLMGemini = "gemini"
	LLMMock   = "mock"

	StorageMemory   = "memory"
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Speech    SpeechConfig    `yaml:"speech"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            string `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// SpeechConfig selects and configures the speech-to-text provider
type SpeechConfig struct {
	Provider string       `yaml:"provider"`
	Xunfei   XunfeiConfig `yaml:"xunfei"`
	Language string       `yaml:"language"` // used by the google provider
	Timeout  int          `yaml:"timeout"`  // seconds, google provider; falls back to xunfei.timeout
}

// XunfeiConfig contains the Xunfei IAT settings
type XunfeiConfig struct {
	AppID         string `yaml:"app_id"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	Endpoint      string `yaml:"endpoint"`
	FrameSize     int    `yaml:"frame_size"`     // bytes
	FrameInterval int    `yaml:"frame_interval"` // milliseconds
	Timeout       int    `yaml:"timeout"`        // seconds
}

// LLMConfig selects and configures the annotation model
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
}

// StorageConfig selects the recording store
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	MongoMaxPool  uint64 `yaml:"mongo_max_pool_size"`
	PostgresURL   string `yaml:"postgres_url"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// AuthConfig contains API authentication settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// FetchConfig contains audio download settings
type FetchConfig struct {
	MaxRetries int `yaml:"max_retries"`
	BaseDelay  int `yaml:"base_delay"` // milliseconds
	MaxDelay   int `yaml:"max_delay"`  // milliseconds
	Timeout    int `yaml:"timeout"`    // seconds
}

// TranscodeConfig contains ffmpeg settings
type TranscodeConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir"`
}

// RecoveryConfig contains the stale-run sweeper settings
type RecoveryConfig struct {
	Interval   int `yaml:"interval"`    // seconds
	StaleAfter int `yaml:"stale_after"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 10},
		Speech: SpeechConfig{Provider: SpeechXunfei, Language: "zh-CN"},
		LLM:    LLMConfig{Provider: LLMOpenAI},
		Recovery: RecoveryConfig{
			Interval:   int(recovery.DefaultInterval / time.Second),
			StaleAfter: int(recovery.DefaultStaleAfter / time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .env, the optional YAML file named by CONFIG_FILE, then environment overrides
func Load() (*Config, error) {
	// A missing .env file is fine in deployed environments
	_ = godotenv.Load()

	config := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with every environment variable that is set
func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setInt(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT_SECONDS")

	setString(&c.Speech.Provider, "SPEECH_PROVIDER")
	setString(&c.Speech.Language, "SPEECH_LANGUAGE")
	setInt(&c.Speech.Timeout, "SPEECH_TIMEOUT_SECONDS")
	xunfei := stt.NewXunfeiConfigFromEnv()
	overlay(&c.Speech.Xunfei.AppID, xunfei.AppID)
	overlay(&c.Speech.Xunfei.APIKey, xunfei.APIKey)
	overlay(&c.Speech.Xunfei.APISecret, xunfei.APISecret)
	overlay(&c.Speech.Xunfei.Endpoint, xunfei.Endpoint)
	if xunfei.Timeout > 0 {
		c.Speech.Xunfei.Timeout = int(xunfei.Timeout / time.Second)
	}

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	if c.LLM.Provider == LLMGemini {
		gemini := llm.NewGeminiConfigFromEnv()
		overlay(&c.LLM.APIKey, gemini.APIKey)
		overlay(&c.LLM.Model, gemini.Model)
	} else {
		openAI := llm.NewOpenAIConfigFromEnv()
		overlay(&c.LLM.APIKey, openAI.APIKey)
		overlay(&c.LLM.BaseURL, openAI.BaseURL)
		overlay(&c.LLM.Model, openAI.Model)
	}

	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	mongoEnv := mongo.NewConfigFromEnv()
	overlay(&c.Storage.MongoURI, mongoEnv.URI)
	overlay(&c.Storage.MongoDatabase, mongoEnv.Database)
	if mongoEnv.MaxPoolSize > 0 {
		c.Storage.MongoMaxPool = mongoEnv.MaxPoolSize
	}
	postgresEnv := postgres.NewConfigFromEnv()
	overlay(&c.Storage.PostgresURL, postgresEnv.URL)
	if postgresEnv.AutoMigrate {
		c.Storage.AutoMigrate = true
	}

	setString(&c.Auth.JWTSecret, "JWT_SECRET")

	setInt(&c.Fetch.MaxRetries, "FETCH_MAX_RETRIES")
	setInt(&c.Fetch.Timeout, "FETCH_TIMEOUT_SECONDS")

	setString(&c.Transcode.FFmpegPath, "FFMPEG_PATH")
	setString(&c.Transcode.TempDir, "TEMP_DIR")

	setInt(&c.Recovery.Interval, "RECOVERY_INTERVAL_SECONDS")
	setInt(&c.Recovery.StaleAfter, "RECOVERY_STALE_AFTER_SECONDS")

	setString(&c.Logging.Level, "LOG_LEVEL")
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %d", c.Server.ShutdownTimeout)
	}

	switch c.Speech.Provider {
	case SpeechXunfei, SpeechGoogle, SpeechMock:
	default:
		return fmt.Errorf("speech provider must be one of [xunfei, google, mock], got '%s'", c.Speech.Provider)
	}

	switch c.LLM.Provider {
	case LLMOpenAI, LLMGemini, LLMMock:
	default:
		return fmt.Errorf("llm provider must be one of [openai, gemini, mock], got '%s'", c.LLM.Provider)
	}

	switch c.Storage.Driver {
	case "", StorageMemory, StorageMongo, StoragePostgres:
	default:
		return fmt.Errorf("storage driver must be one of [memory, mongo, postgres], got '%s'", c.Storage.Driver)
	}

	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch max_retries cannot be negative, got %d", c.Fetch.MaxRetries)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", c.Logging.Level)
	}

	return nil
}

// StorageDriver returns the configured driver, inferring it from the
// connection settings when unset. Memory is the mock-mode fallback.
func (c *Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return c.Storage.Driver
	}
	if c.Storage.PostgresURL != "" {
		return StoragePostgres
	}
	if c.Storage.MongoURI != "" {
		return StorageMongo
	}
	return StorageMemory
}

// XunfeiConfig returns the Xunfei adapter configuration
func (c *Config) XunfeiConfig() stt.XunfeiConfig {
	x := c.Speech.Xunfei
	return stt.XunfeiConfig{
		AppID:         x.AppID,
		APIKey:        x.APIKey,
		APISecret:     x.APISecret,
		Endpoint:      x.Endpoint,
		FrameSize:     x.FrameSize,
		FrameInterval: time.Duration(x.FrameInterval) * time.Millisecond,
		Timeout:       time.Duration(x.Timeout) * time.Second,
	}
}

// GoogleConfig returns the Google Cloud speech adapter configuration
func (c *Config) GoogleConfig() stt.GoogleConfig {
	audioConfig := repositories.DefaultAudioConfig
	if c.Speech.Language != "" {
		audioConfig.Language = c.Speech.Language
	}

	timeout := c.Speech.Timeout
	if timeout == 0 {
		timeout = c.Speech.Xunfei.Timeout
	}
	return stt.GoogleConfig{
		Audio:   audioConfig,
		Timeout: time.Duration(timeout) * time.Second,
	}
}

// OpenAIConfig returns the OpenAI-compatible annotator configuration
func (c *Config) OpenAIConfig() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:         c.LLM.APIKey,
		BaseURL:        c.LLM.BaseURL,
		Model:          c.LLM.Model,
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
		TimeoutSeconds: c.LLM.Timeout,
	}
}

// GeminiConfig returns the native Gemini annotator configuration
func (c *Config) GeminiConfig() llm.GeminiConfig {
	return llm.GeminiConfig{
		APIKey:          c.LLM.APIKey,
		BaseURL:         c.LLM.BaseURL,
		Model:           c.LLM.Model,
		Temperature:     c.LLM.Temperature,
		MaxOutputTokens: c.LLM.MaxTokens,
		TimeoutSeconds:  c.LLM.Timeout,
	}
}

// FetcherConfig returns the audio download configuration
func (c *Config) FetcherConfig() audio.FetcherConfig {
	return audio.FetcherConfig{
		MaxRetries: c.Fetch.MaxRetries,
		BaseDelay:  time.Duration(c.Fetch.BaseDelay) * time.Millisecond,
		MaxDelay:   time.Duration(c.Fetch.MaxDelay) * time.Millisecond,
		Timeout:    time.Duration(c.Fetch.Timeout) * time.Second,
	}
}

// MongoConfig returns the MongoDB connection settings
func (c *Config) MongoConfig() mongo.Config {
	return mongo.Config{
		URI:         c.Storage.MongoURI,
		Database:    c.Storage.MongoDatabase,
		MaxPoolSize: c.Storage.MongoMaxPool,
	}
}

// PostgresConfig returns the PostgreSQL connection settings
func (c *Config) PostgresConfig() postgres.Config {
	return postgres.Config{URL: c.Storage.PostgresURL, AutoMigrate: c.Storage.AutoMigrate}
}

// RecoveryConfig returns the sweeper settings
func (c *Config) RecoveryConfig() recovery.Config {
	return recovery.Config{
		Interval:   time.Duration(c.Recovery.Interval) * time.Second,
		StaleAfter: time.Duration(c.Recovery.StaleAfter) * time.Second,
	}
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

func overlay(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setString(dst *string, key string) {
	overlay(dst, os.Getenv(key))
}

func setInt(dst *int, key string) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = v
	}
}
