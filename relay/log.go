package relay

import (
	"io"
	"log/slog"
	"os"
)

// Logger 接口定义，msg 之后是 key/value 对
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger 基于 slog 的实现
type DefaultLogger struct {
	*slog.Logger
}

// NewDefaultLogger debug 为 true 时输出 Debug 级别
func NewDefaultLogger(debug bool) *DefaultLogger {
	return NewLogger(os.Stderr, debug)
}

func NewLogger(w io.Writer, debug bool) *DefaultLogger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return &DefaultLogger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger 丢弃所有日志
func NopLogger() Logger { return nopLogger{} }
