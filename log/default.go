package log

import (
	"io"
	"log/slog"
)

var defaultLogger Logger

func init() {
	l, err := NewLogWithOptions(&Options{Level: "info", Format: "text"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

// Default 返回默认的终端日志
func Default() Logger {
	return defaultLogger
}

// Discard 丢弃所有日志
func Discard() Logger {
	return NewLogWithHandler(slog.NewTextHandler(io.Discard, nil))
}
