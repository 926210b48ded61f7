// Package logger wraps zap with a global singleton and a few configstore-specific field helpers.
package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OutputType defines where logs are written.
type OutputType string

const (
	OutputConsole OutputType = "console"
	OutputFile    OutputType = "file"
)

// Config holds the logger configuration.
type Config struct {
	Level string

	Output OutputType

	// Format is "json" or "console"; only applicable for console/file output.
	Format string

	FilePath       string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool

	Development bool
	AddCaller   bool
	CallerSkip  int
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:          "info",
		Output:         OutputConsole,
		Format:         "json",
		FilePath:       "./logs/configstore.log",
		FileMaxSizeMB:  100,
		FileMaxBackups: 3,
		FileMaxAgeDays: 28,
		FileCompress:   true,
		Development:    false,
		AddCaller:      true,
		CallerSkip:     1,
	}
}

// Logger wraps zap.Logger with additional functionality.
type Logger struct {
	*zap.Logger
	sugar   *zap.SugaredLogger
	config  *Config
	core    zapcore.Core
	closers []io.Closer
	mu      sync.RWMutex
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// New creates a new Logger instance based on the provided configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := createEncoderConfig(cfg.Development)

	var core zapcore.Core
	switch cfg.Output {
	case OutputFile:
		core, err = createFileCore(cfg, level, encoderConfig)
		if err != nil {
			return nil, err
		}
	default:
		core = createConsoleCore(cfg, level, encoderConfig)
	}

	opts := buildZapOptions(cfg)
	zapLogger := zap.New(core, opts...)

	return &Logger{
		Logger:  zapLogger,
		sugar:   zapLogger.Sugar(),
		config:  cfg,
		core:    core,
		closers: make([]io.Closer, 0),
	}, nil
}

// Init initializes the global logger with the provided configuration.
func Init(cfg *Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetGlobal(l)
	return nil
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Get returns the global logger instance, lazily initializing it with defaults.
func Get() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		l, _ := New(DefaultConfig())
		globalLogger = l
	}
	return globalLogger
}

// Sugar returns the sugared logger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// WithContext returns a logger enriched with trace/span IDs from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return l
	}

	newLogger := l.With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	return &Logger{
		Logger:  newLogger,
		sugar:   newLogger.Sugar(),
		config:  l.config,
		core:    l.core,
		closers: l.closers,
	}
}

// WithFields returns a child logger carrying the given fixed fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	newLogger := l.With(fields...)
	return &Logger{
		Logger:  newLogger,
		sugar:   newLogger.Sugar(),
		config:  l.config,
		core:    l.core,
		closers: l.closers,
	}
}

// WithError returns a logger with an error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// Close flushes buffered logs and closes any open writers.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.Logger.Sync()

	var lastErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

func createEncoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		c := zap.NewDevelopmentEncoderConfig()
		c.EncodeLevel = zapcore.CapitalColorLevelEncoder
		c.EncodeTime = zapcore.ISO8601TimeEncoder
		return c
	}

	c := zap.NewProductionEncoderConfig()
	c.EncodeTime = zapcore.ISO8601TimeEncoder
	c.TimeKey = "timestamp"
	c.MessageKey = "message"
	c.LevelKey = "level"
	c.CallerKey = "caller"
	c.StacktraceKey = "stacktrace"
	return c
}

func createConsoleCore(cfg *Config, level zapcore.Level, encoderConfig zapcore.EncoderConfig) zapcore.Core {
	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
}

func createFileCore(cfg *Config, level zapcore.Level, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	if err := ensureLogDir(cfg.FilePath); err != nil {
		return nil, err
	}

	writer := &fileWriter{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.FileMaxSizeMB,
		MaxBackups: cfg.FileMaxBackups,
		MaxAge:     cfg.FileMaxAgeDays,
		Compress:   cfg.FileCompress,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}

func buildZapOptions(cfg *Config) []zap.Option {
	var opts []zap.Option

	if cfg.AddCaller {
		opts = append(opts, zap.AddCaller())
		if cfg.CallerSkip > 0 {
			opts = append(opts, zap.AddCallerSkip(cfg.CallerSkip))
		}
	}

	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return opts
}

// Global helpers delegate to Get().

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

func With(fields ...zap.Field) *Logger        { return Get().WithFields(fields...) }
func WithContext(ctx context.Context) *Logger { return Get().WithContext(ctx) }
func WithErr(err error) *Logger               { return Get().WithError(err) }

func Sync() error {
	return Get().Sync()
}

func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}
