package clog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// loggerImpl 是 Logger 接口的具体实现
type loggerImpl struct {
	handler   slog.Handler
	levelVar  *slog.LevelVar
	baseAttrs []slog.Attr
}

// newLogger 创建 Logger 实例（内部使用）
func newLogger(config *Config) (Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(level.toSlogLevel())

	var out *os.File
	switch config.Output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", config.Output, err)
		}
		out = f
	}

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &loggerImpl{
		handler:  handler,
		levelVar: levelVar,
	}, nil
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *loggerImpl) With(fields ...Field) Logger {
	return &loggerImpl{
		handler:   l.handler,
		levelVar:  l.levelVar,
		baseAttrs: append(l.baseAttrs[:len(l.baseAttrs):len(l.baseAttrs)], fields...),
	}
}

func (l *loggerImpl) SetLevel(level Level) error {
	l.levelVar.Set(level.toSlogLevel())
	return nil
}

func (l *loggerImpl) log(level Level, msg string, fields ...Field) {
	slogLevel := level.toSlogLevel()
	ctx := context.Background()

	if !l.handler.Enabled(ctx, slogLevel) {
		return
	}

	// 获取调用方程序计数器，用于准确的源码位置
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip: runtime.Callers, log, Debug/Info/...

	record := slog.NewRecord(time.Now(), slogLevel, msg, pcs[0])
	record.AddAttrs(l.baseAttrs...)
	record.AddAttrs(fields...)

	_ = l.handler.Handle(ctx, record)
}
