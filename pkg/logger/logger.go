package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 为 prod 时输出 JSON
// File 非空时同时写入滚动日志文件（lumberjack）
type Config struct {
	Level       string
	Environment string
	WithSource  bool
	File        string
	MaxSizeMB   int
	MaxBackups  int
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
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
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

func writerFor(cfg Config) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize, // MB
		MaxBackups: maxBackups,
		MaxAge:     30,
		Compress:   true,
	})
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	w := writerFor(cfg)
	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler), nil
}

// Init 初始化全局日志实例并设置为 slog 默认 logger，重复调用返回首次创建的实例
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
		if initErr == nil {
			slog.SetDefault(global)
		}
	})
	return global, initErr
}

// L 返回全局 logger，未初始化时退回 slog.Default()
func L() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}

// LogChunkEvent 记录切片处理事件的结构化日志
// component: decode/split/asr/assemble
// action: start/success/error/timeout
// errorCode 非空时以 ERROR 级别输出
func LogChunkEvent(logger *slog.Logger, component, action string, chunkID int, durationMs int64, errorCode string, extra ...slog.Attr) {
	if logger == nil {
		logger = L()
	}
	attrs := []slog.Attr{
		slog.String("component", component),
		slog.String("action", action),
		slog.Int("chunk_id", chunkID),
		slog.Int64("duration_ms", durationMs),
	}
	attrs = append(attrs, extra...)

	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(context.Background(), slog.LevelError, "chunk processing error", attrs...)
		return
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "chunk processing event", attrs...)
}
