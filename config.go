package quizstudio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
	App    AppConfig    `mapstructure:"app"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	SessionSecret string `mapstructure:"session_secret"`
}

// OpenAIConfig configures the generation service and the smart answer validator
type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	ValidatorModel    string  `mapstructure:"validator_model"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
	TranscriptDir     string  `mapstructure:"transcript_dir"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite, redis or memory
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AppConfig struct {
	Language Language `mapstructure:"language"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8180")
	v.SetDefault("server.session_secret", "change-me-quizstudio-session-key")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.validator_model", "gpt-4o-mini")
	v.SetDefault("openai.requests_per_minute", 30)
	v.SetDefault("openai.burst", 3)
	v.SetDefault("openai.transcript_dir", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./quizstudio.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "quizstudio:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("app.language", string(LangEnglish))
}

// LoadConfig reads config.yaml from path (optional), then QUIZSTUDIO_* environment
// variables. OPENAI_API_KEY is honoured as well.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("QUIZSTUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", "QUIZSTUDIO_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.App.Language {
	case LangEnglish, LangVietnamese:
	default:
		return fmt.Errorf("unsupported language %q", c.App.Language)
	}
	if c.OpenAI.RequestsPerMinute < 0 {
		return fmt.Errorf("openai.requests_per_minute must not be negative")
	}
	return nil
}
