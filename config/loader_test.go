// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证运行默认值
	assert.Equal(t, "gpt-4o", cfg.Run.Model)
	assert.Equal(t, 50, cfg.Run.MaxTimePrompts)
	assert.Equal(t, 5, cfg.Run.MaxDelegationDepth)

	// 验证记忆默认值
	assert.Equal(t, 20, cfg.Memory.MaxSize)

	// 验证重试默认值
	assert.Equal(t, 6, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 0.1, cfg.Retry.JitterFactor)
	assert.Equal(t, 600*time.Second, cfg.Retry.Timeout)

	// 验证存储默认值
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "agentcrew:", cfg.Redis.KeyPrefix)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 20, cfg.Memory.MaxSize)
	assert.Equal(t, "agentcrew", cfg.Metrics.Namespace)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
run:
  model: "claude-3"
  agents_mode: "solo"
  max_time_prompts: 12
  output_dir: "/tmp/out"

memory:
  max_size: 5

retry:
  max_retries: 2
  initial_delay: 500ms
  max_delay: 10s
  timeout: 30s

redis:
  enabled: true
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, "claude-3", cfg.Run.Model)
	assert.Equal(t, "solo", cfg.Run.AgentsMode)
	assert.Equal(t, 12, cfg.Run.MaxTimePrompts)
	assert.Equal(t, "/tmp/out", cfg.Run.OutputDir)
	assert.Equal(t, 5, cfg.Memory.MaxSize)

	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.Timeout)
	// 未出现在 YAML 中的字段保持默认
	assert.Equal(t, 0.1, cfg.Retry.JitterFactor)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTCREW_RUN_MODEL", "gpt-4-turbo")
	t.Setenv("AGENTCREW_RUN_MAX_TIME_PROMPTS", "15")
	t.Setenv("AGENTCREW_RUN_TEST_MODE", "true")
	t.Setenv("AGENTCREW_RETRY_JITTER_FACTOR", "0.2")
	t.Setenv("AGENTCREW_RETRY_TIMEOUT", "90s")
	t.Setenv("AGENTCREW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("AGENTCREW_LOG_OUTPUT_PATHS", "stdout, /var/log/crew.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4-turbo", cfg.Run.Model)
	assert.Equal(t, 15, cfg.Run.MaxTimePrompts)
	assert.True(t, cfg.Run.TestMode)
	assert.Equal(t, 0.2, cfg.Retry.JitterFactor)
	assert.Equal(t, 90*time.Second, cfg.Retry.Timeout)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"stdout", "/var/log/crew.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
run:
  model: "yaml-model"
  prompt: "yaml-prompt"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("AGENTCREW_RUN_MODEL", "env-model")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Run.Model)
	assert.Equal(t, "yaml-prompt", cfg.Run.Prompt)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_MEMORY_MAX_SIZE", "7")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Memory.MaxSize)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTCREW_RETRY_TIMEOUT", "forever")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTCREW_MEMORY_MAX_SIZE", "0")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 50, cfg.Run.MaxTimePrompts)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
run:
  max_time_prompts: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "zero time budget", modify: func(c *Config) { c.Run.MaxTimePrompts = 0 }, wantErr: true},
		{name: "negative delegation depth", modify: func(c *Config) { c.Run.MaxDelegationDepth = -1 }, wantErr: true},
		{name: "zero memory size", modify: func(c *Config) { c.Memory.MaxSize = 0 }, wantErr: true},
		{name: "negative retries", modify: func(c *Config) { c.Retry.MaxRetries = -1 }, wantErr: true},
		{name: "max delay below initial", modify: func(c *Config) { c.Retry.MaxDelay = time.Second }, wantErr: true},
		{name: "jitter too large", modify: func(c *Config) { c.Retry.JitterFactor = 1.5 }, wantErr: true},
		{name: "zero timeout", modify: func(c *Config) { c.Retry.Timeout = 0 }, wantErr: true},
		{
			name: "unknown database driver",
			modify: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Driver = "oracle"
			},
			wantErr: true,
		},
		{
			name: "disabled database ignores driver",
			modify: func(c *Config) {
				c.Database.Driver = "oracle"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Panics(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("run: [oops"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
