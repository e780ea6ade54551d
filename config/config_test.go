package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAppConfig struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Registry struct {
		HeartbeatTTL string `mapstructure:"heartbeat_ttl"`
	} `mapstructure:"registry"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T, dir string) Loader {
	t.Helper()
	loader, err := New(&Config{Name: "config", Paths: []string{dir}})
	require.NoError(t, err)
	return loader
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  addr: ":8080"
registry:
  heartbeat_ttl: 30s
`)

	loader := newTestLoader(t, dir)
	require.NoError(t, loader.Load(context.Background()))

	var cfg testAppConfig
	require.NoError(t, loader.Unmarshal(&cfg))
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "30s", cfg.Registry.HeartbeatTTL)

	assert.Equal(t, ":8080", loader.Get("server.addr"))
}

func TestLoader_UnmarshalKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
registry:
  heartbeat_ttl: 15s
`)

	loader := newTestLoader(t, dir)
	require.NoError(t, loader.Load(context.Background()))

	var section struct {
		HeartbeatTTL string `mapstructure:"heartbeat_ttl"`
	}
	require.NoError(t, loader.UnmarshalKey("registry", &section))
	assert.Equal(t, "15s", section.HeartbeatTTL)
}

func TestLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  addr: ":8080"
`)
	t.Setenv("AEGIS_SERVER_ADDR", ":9090")

	loader := newTestLoader(t, dir)
	require.NoError(t, loader.Load(context.Background()))

	// 环境变量覆盖文件值
	assert.Equal(t, ":9090", loader.Get("server.addr"))
}

func TestLoader_EnvironmentSpecificConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  addr: ":8080"
log:
  level: info
`)
	writeFile(t, dir, "config.prod.yaml", `
log:
  level: warn
`)
	t.Setenv("AEGIS_ENV", "prod")

	loader := newTestLoader(t, dir)
	require.NoError(t, loader.Load(context.Background()))

	// 环境特定配置覆盖同名 key，其余保持基础值
	assert.Equal(t, "warn", loader.Get("log.level"))
	assert.Equal(t, ":8080", loader.Get("server.addr"))
}

func TestLoader_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  addr: ":8080"
`)
	writeFile(t, dir, ".env", "AEGIS_SERVER_ADDR=:7070\n")
	// godotenv 写入进程环境，测试结束后清理
	t.Cleanup(func() { os.Unsetenv("AEGIS_SERVER_ADDR") })

	loader := newTestLoader(t, dir)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, ":7070", loader.Get("server.addr"))
}

func TestLoader_MissingFile(t *testing.T) {
	loader := newTestLoader(t, t.TempDir())

	// 没有任何配置来源时 Validate 失败
	err := loader.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestNew_Defaults(t *testing.T) {
	cfg := &Config{EnvPrefix: "aegis"}
	cfg.setDefaults()

	assert.Equal(t, "config", cfg.Name)
	assert.Equal(t, "yaml", cfg.FileType)
	assert.Equal(t, "AEGIS", cfg.EnvPrefix)
	assert.Equal(t, []string{".", "./configs"}, cfg.Paths)
}
