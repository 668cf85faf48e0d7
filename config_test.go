package quizstudio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8180", cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ValidatorModel)
	assert.Equal(t, 30.0, cfg.OpenAI.RequestsPerMinute)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "quizstudio:", cfg.Store.RedisPrefix)
	assert.Equal(t, LangEnglish, cfg.App.Language)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := "openai:\n  model: gpt-4.1\nstore:\n  driver: redis\napp:\n  language: vi\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("QUIZSTUDIO_STORE_DRIVER", "memory")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", cfg.OpenAI.Model)
	assert.Equal(t, "memory", cfg.Store.Driver, "environment wins over the file")
	assert.Equal(t, LangVietnamese, cfg.App.Language)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store: StoreConfig{Driver: "sqlite", SQLitePath: "x.db"},
			App:   AppConfig{Language: LangEnglish},
		}
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := map[string]func(*Config){
		"unknown driver":  func(c *Config) { c.Store.Driver = "etcd" },
		"missing path":    func(c *Config) { c.Store.SQLitePath = "" },
		"missing redis":   func(c *Config) { c.Store.Driver = "redis" },
		"bad language":    func(c *Config) { c.App.Language = "fr" },
		"negative limits": func(c *Config) { c.OpenAI.RequestsPerMinute = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
