package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recommendation backend
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Databases  DatabasesConfig  `mapstructure:"databases"`
	LLM        LLMConfig        `mapstructure:"llm"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Janitor    JanitorConfig    `mapstructure:"janitor"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DatabasesConfig groups the durable store and the cache
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes how to reach the catalog/conversation store
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the optional catalog row cache
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig carries per-provider transport settings. API keys live per user in
// the store; these are process-level knobs only.
type LLMConfig struct {
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxTokens        int           `mapstructure:"max_tokens"`
}

// WebSocketConfig contains chat-loop settings
type WebSocketConfig struct {
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
}

// EvaluationConfig configures the judge model used to score finished turns
type EvaluationConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// TracingConfig points at the optional trace collector; empty endpoint means noop
type TracingConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// JanitorConfig drives the background job that closes stale conversations
type JanitorConfig struct {
	Schedule  string        `mapstructure:"schedule"`
	IdleAfter time.Duration `mapstructure:"idle_after"`
}

// LoadConfig reads configuration from file and CINECHAT_* environment variables.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("websocket.receive_timeout", 60*time.Second)
	viper.SetDefault("llm.timeout", 120*time.Second)
	viper.SetDefault("llm.max_tokens", 1000)
	viper.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.anthropic_base_url", "https://api.anthropic.com/v1")
	viper.SetDefault("evaluation.provider", "openai")
	viper.SetDefault("evaluation.model", "gpt-4-1106-preview")
	viper.SetDefault("databases.redis.cache_ttl", 5*time.Minute)
	viper.SetDefault("tracing.timeout", 5*time.Second)
	viper.SetDefault("janitor.schedule", "0 * * * *")
	viper.SetDefault("janitor.idle_after", 24*time.Hour)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CINECHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; env + defaults are enough to boot
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
