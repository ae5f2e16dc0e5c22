package log

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/hatlonely/crudgw/log/writer"
	"github.com/hatlonely/crudgw/ref"
	"github.com/pkg/errors"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type Options struct {
	// debug, info, warn, error
	Level string `cfg:"level" def:"info" validate:"omitempty,oneof=debug info warn warning error"`
	// text 或 json
	Format string `cfg:"format" def:"text" validate:"omitempty,oneof=text json"`
	// 输出器，为空时输出到 stdout
	Output *ref.TypeOptions `cfg:"output"`
	// 是否输出调用位置
	AddSource bool `cfg:"addSource"`
	// 附加到每条日志上的字段
	Fields map[string]any `cfg:"fields"`
}

// SLog 基于 log/slog 的 Logger 实现
type SLog struct {
	logger *slog.Logger
	closer writer.Writer
}

func NewLogWithOptions(options *Options) (*SLog, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	level, err := parseLevel(options.Level)
	if err != nil {
		return nil, err
	}

	var w writer.Writer
	if options.Output != nil && options.Output.Type != "" {
		if options.Output.Namespace == "" {
			options.Output.Namespace = writer.Namespace
		}
		w, err = writer.New(options.Output)
		if err != nil {
			return nil, errors.WithMessage(err, "create log output")
		}
	} else {
		w, _ = writer.NewConsoleWriterWithOptions(nil)
	}

	handlerOptions := &slog.HandlerOptions{Level: level, AddSource: options.AddSource}

	var handler slog.Handler
	switch strings.ToLower(options.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOptions)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOptions)
	default:
		_ = w.Close()
		return nil, errors.Errorf("unsupported log format: %s", options.Format)
	}

	logger := slog.New(handler)
	if len(options.Fields) > 0 {
		keys := make([]string, 0, len(options.Fields))
		for k := range options.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		args := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			args = append(args, k, options.Fields[k])
		}
		logger = logger.With(args...)
	}

	return &SLog{logger: logger, closer: w}, nil
}

// NewLogWithHandler 用已有的 slog.Handler 构造，测试时常用
func NewLogWithHandler(handler slog.Handler) *SLog {
	return &SLog{logger: slog.New(handler)}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log level: %s", level)
	}
}

func (l *SLog) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SLog) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SLog) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SLog) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *SLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *SLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *SLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *SLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l *SLog) With(args ...any) Logger {
	return &SLog{logger: l.logger.With(args...)}
}

func (l *SLog) WithGroup(name string) Logger {
	return &SLog{logger: l.logger.WithGroup(name)}
}

// Close 关闭底层输出器，派生出来的 Logger 不持有输出器
func (l *SLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
