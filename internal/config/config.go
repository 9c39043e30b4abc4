// Package config loads and holds the application configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Conf holds all settings loaded from the config file.
var Conf Config

// Config mirrors the structure of config.yaml.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Tika       TikaConfig       `mapstructure:"tika"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Chunker    ChunkerConfig    `mapstructure:"chunker"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig groups the relational and cache store settings.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig holds the MySQL connection settings.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds the indexing task queue settings.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig holds the raw document archive settings.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig holds the Tika text-extraction server settings.
// An empty ServerURL disables extraction of binary document formats.
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// VectorConfig selects and configures the vector store backend.
// Mode is "embedded" (local file-backed store) or "elastic" (networked
// cluster). The two backends report similarity on different scales, so
// each carries its own minimum score threshold.
type VectorConfig struct {
	Mode       string               `mapstructure:"mode"`
	Collection string               `mapstructure:"collection"`
	Dimension  int                  `mapstructure:"dimension"`
	Embedded   EmbeddedVectorConfig `mapstructure:"embedded"`
	Elastic    ElasticVectorConfig  `mapstructure:"elastic"`
}

// EmbeddedVectorConfig holds the file-backed store settings.
type EmbeddedVectorConfig struct {
	Path     string  `mapstructure:"path"`
	MinScore float64 `mapstructure:"min_score"`
}

// ElasticVectorConfig holds the Elasticsearch backend settings.
type ElasticVectorConfig struct {
	Addresses string  `mapstructure:"addresses"`
	Username  string  `mapstructure:"username"`
	Password  string  `mapstructure:"password"`
	MinScore  float64 `mapstructure:"min_score"`
}

// EmbeddingConfig holds the embedding model settings. Provider is "remote"
// (OpenAI-compatible HTTP API) or "local" (in-process, for air-gapped
// deployments).
type EmbeddingConfig struct {
	Provider      string  `mapstructure:"provider"`
	APIKey        string  `mapstructure:"api_key"`
	BaseURL       string  `mapstructure:"base_url"`
	Model         string  `mapstructure:"model"`
	Dimensions    int     `mapstructure:"dimensions"`
	MaxInputChars int     `mapstructure:"max_input_chars"`
	BatchSize     int     `mapstructure:"batch_size"`
	Concurrency   int     `mapstructure:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
}

// ChunkerConfig holds the document chunking settings. Sizes are in tokens,
// converted to characters with CharsPerToken.
type ChunkerConfig struct {
	ChunkSize     int `mapstructure:"chunk_size"`
	ChunkOverlap  int `mapstructure:"chunk_overlap"`
	CharsPerToken int `mapstructure:"chars_per_token"`
}

// LLMConfig holds the chat model settings for both providers.
type LLMConfig struct {
	Primary        string           `mapstructure:"primary"`
	EnableFallback bool             `mapstructure:"enable_fallback"`
	TimeoutSec     int              `mapstructure:"timeout_sec"`
	Temperature    float64          `mapstructure:"temperature"`
	MaxTokens      int              `mapstructure:"max_tokens"`
	SystemPrompt   string           `mapstructure:"system_prompt"`
	OpenRouter     OpenRouterConfig `mapstructure:"openrouter"`
	Ollama         OllamaConfig     `mapstructure:"ollama"`
}

// OpenRouterConfig holds the OpenRouter provider settings.
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Referer string `mapstructure:"referer"`
	Title   string `mapstructure:"title"`
}

// OllamaConfig holds the local Ollama provider settings.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GuardrailsConfig holds the content-safety rule settings. Empty lists fall
// back to the built-in defaults in pkg/guardrails.
type GuardrailsConfig struct {
	BlockedTopics   []string `mapstructure:"blocked_topics"`
	AllowedDomains  []string `mapstructure:"allowed_domains"`
	MaxInputLength  int      `mapstructure:"max_input_length"`
	MaxOutputLength int      `mapstructure:"max_output_length"`
}

// RateLimitConfig holds the per-client chat rate limit settings.
type RateLimitConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RequestsPerMin int  `mapstructure:"requests_per_minute"`
	RequestsPerDay int  `mapstructure:"requests_per_day"`
}

// Init reads the YAML file at configPath and parses it into Conf.
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("failed to read config file: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal config into struct: %w", err))
	}
}
