package clog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBufferLogger 创建一个写入内存缓冲区的 JSON Logger（仅测试使用）
func newBufferLogger(t *testing.T, level Level) (*loggerImpl, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	levelVar := &slog.LevelVar{}
	levelVar.Set(level.toSlogLevel())

	return &loggerImpl{
		handler:  slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: levelVar}),
		levelVar: levelVar,
	}, buf
}

func TestNew_Defaults(t *testing.T) {
	t.Run("nil 配置应该使用默认配置", func(t *testing.T) {
		logger, err := New(nil)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("非法级别应该返回错误", func(t *testing.T) {
		_, err := New(&Config{Level: "verbose"})
		require.Error(t, err)
	})

	t.Run("非法格式应该返回错误", func(t *testing.T) {
		_, err := New(&Config{Format: "xml"})
		require.Error(t, err)
	})

	t.Run("文件输出应该创建日志文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateway.log")
		logger, err := New(&Config{Level: "info", Format: "json", Output: path})
		require.NoError(t, err)

		logger.Info("hello")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})
}

func TestLogger_Fields(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	logger.Info("request forwarded",
		String("service", "order-service"),
		Int("status", 200),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request forwarded", entry["msg"])
	assert.Equal(t, "order-service", entry["service"])
	assert.Equal(t, float64(200), entry["status"])
}

func TestLogger_With(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	child := logger.With(String("component", "breaker"))
	child.Info("state changed")

	assert.Contains(t, buf.String(), `"component":"breaker"`)

	t.Run("父 Logger 不受子 Logger 字段影响", func(t *testing.T) {
		buf.Reset()
		logger.Info("plain")
		assert.NotContains(t, buf.String(), "component")
	})
}

func TestLogger_LevelFilter(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Empty(t, buf.String(), "低于 warn 级别的日志应该被过滤")

	logger.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	logger.Debug("before")
	assert.Empty(t, buf.String())

	require.NoError(t, logger.SetLevel(DebugLevel))
	logger.Debug("after")
	assert.Contains(t, buf.String(), "after")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"Warn":  WarnLevel,
		"error": ErrorLevel,
		"fatal": FatalLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, strings.ToLower(in), got.String())
	}

	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestErrorField(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	logger.Warn("probe failed", Error(assert.AnError))
	assert.Contains(t, buf.String(), "err_msg")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	// 所有方法均为空操作，不应 panic
	logger.Debug("a")
	logger.Info("b")
	logger.Warn("c")
	logger.Error("d")
	assert.Equal(t, logger, logger.With(String("k", "v")))
	assert.NoError(t, logger.SetLevel(DebugLevel))
}
