package logger

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// loggerFile 本文件路径，查找调用者时跳过本文件中的帧
var loggerFile = func() string {
	_, file, _, _ := runtime.Caller(0)
	return file
}()

// getCallerFunctionName 获取调用者的函数名，内联的包级函数也能正确跳过
func getCallerFunctionName() string {
	pc := make([]uintptr, 16)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if frame.File != loggerFile && frame.Function != "" {
			// 去掉包路径和接收者，只保留方法名
			parts := strings.Split(frame.Function, ".")
			return parts[len(parts)-1]
		}
		if !more {
			return "unknown"
		}
	}
}

// entry 根据 context 中的 trace_id / run_id 构造日志条目
func (l *logrusLogger) entry(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if traceID := getTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if runID := GetRunID(ctx); runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...any) {
	args = append([]any{getCallerFunctionName()}, args...)
	l.entry(ctx).Warnf("[%s] "+msg, args...)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...any) {
	args = append([]any{getCallerFunctionName()}, args...)
	l.entry(ctx).Errorf("[%s] "+msg, args...)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...any) {
	args = append([]any{getCallerFunctionName()}, args...)
	l.entry(ctx).Infof("[%s] "+msg, args...)
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...any) {
	args = append([]any{getCallerFunctionName()}, args...)
	l.entry(ctx).Debugf("[%s] "+msg, args...)
}

// 未调用 InitLogger 时（例如测试中）输出到 stderr
var defaultLogger Logger = newLogrusLogger(logrus.InfoLevel, os.Stderr)

type LoggerConfig struct {
	Level      string `json:"level,omitempty" toml:"level,omitempty"`
	File       string `json:"file,omitempty" toml:"file,omitempty"`
	Console    bool   `json:"console,omitempty" toml:"console,omitempty"`         // 写文件的同时输出到终端
	MaxSize    int    `json:"max_size,omitempty" toml:"max_size,omitempty"`       // 单个日志文件最大大小(MB),默认100MB
	MaxBackups int    `json:"max_backups,omitempty" toml:"max_backups,omitempty"` // 保留的旧日志文件最大数量,默认3个
	MaxAge     int    `json:"max_age,omitempty" toml:"max_age,omitempty"`         // 保留旧日志文件的最大天数,默认7天
	Compress   bool   `json:"compress,omitempty" toml:"compress,omitempty"`       // 是否压缩旧日志,默认false
}

func newLogrusLogger(level logrus.Level, out io.Writer) *logrusLogger {
	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(out)
	// JSON 格式,方便按 trace_id / run_id 检索
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &logrusLogger{logger: log}
}

func InitLogger(cfg *LoggerConfig) {
	if cfg == nil {
		cfg = &LoggerConfig{Level: "info"}
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7
		}

		// 使用 lumberjack 实现日志轮转
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
		}
		out = rotating
		if cfg.Console {
			out = io.MultiWriter(os.Stderr, rotating)
		}
	}

	defaultLogger = newLogrusLogger(level, out)
}

func Warn(ctx context.Context, msg string, args ...any) {
	defaultLogger.Warn(ctx, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	defaultLogger.Error(ctx, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	defaultLogger.Info(ctx, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	defaultLogger.Debug(ctx, msg, args...)
}

func GetDefaultLogger() Logger {
	return defaultLogger
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	runIDKey   contextKey = "run_id"
)

// WithTraceID 将 trace_id 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTraceID 导出的获取 trace_id 函数
func GetTraceID(ctx context.Context) string {
	return getTraceID(ctx)
}

// WithRunID 将一次投递运行的 ID 添加到 context，之后该次运行的所有日志都带 run_id
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID 从 context 中获取 run_id
func GetRunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}
