// Package clog 为网关提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 支持 json/console 两种输出格式
//   - 采用函数式选项模式，符合组件库标准
//   - 支持运行时动态调整日志级别
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger.Info("gateway started", clog.String("addr", ":8080"))
//
// 派生子 Logger：
//
//	healthLogger := logger.With(clog.String("component", "health"))
package clog

// Logger 日志接口，提供结构化日志记录功能
//
// 支持五个日志级别：Debug、Info、Warn、Error、Fatal。
// Fatal 在记录日志后退出进程。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	//
	// 预设的字段会出现在该子 Logger 的所有日志中。
	With(fields ...Field) Logger

	// SetLevel 动态调整日志级别
	SetLevel(level Level) error
}

// New 创建一个新的 Logger 实例
//
// config - 日志配置，如果为 nil 会使用默认配置
func New(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return newLogger(config)
}

// Discard 创建一个静默的 Logger 实例
//
// 返回的 Logger 实现了 Logger 接口，但所有方法体都是空操作。
func Discard() Logger {
	return &noopLogger{}
}

// noopLogger 是一个什么都不做的 Logger 实现（内部使用）
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...Field) {}
func (l *noopLogger) Info(msg string, fields ...Field)  {}
func (l *noopLogger) Warn(msg string, fields ...Field)  {}
func (l *noopLogger) Error(msg string, fields ...Field) {}
func (l *noopLogger) Fatal(msg string, fields ...Field) {}

func (l *noopLogger) With(fields ...Field) Logger { return l }

func (l *noopLogger) SetLevel(level Level) error { return nil }
