package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for non-critical issues
	Warn
	// Error level for errors that need attention
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func fromZapLevel(l zapcore.Level) LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return Debug
	case l == zapcore.InfoLevel:
		return Info
	case l == zapcore.WarnLevel:
		return Warn
	default:
		return Error
	}
}

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs go to Output only
	LogFile string
	// MaxSize is the maximum size in MB before log rotation
	MaxSize int64
	// MaxAge is the number of days rotated files are kept
	MaxAge int
	// JSON selects the JSON encoder instead of the console encoder
	JSON bool
	// Location is the zone timestamps are rendered in. Nil means UTC.
	Location *time.Location
	// Output receives log lines. Defaults to os.Stderr
	Output io.Writer
}

// Logger is a leveled, printf-style logger on top of zap.
type Logger struct {
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	closer io.Closer
}

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	encoder := newEncoder(config.JSON, config.Location)
	level := config.LogLevel.zapLevel()
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(out), level)}

	var closer io.Closer
	if config.LogFile != "" {
		config.LogFile = filepath.Clean(config.LogFile)
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    int(config.MaxSize), // megabytes
			MaxAge:     config.MaxAge,       // days
			MaxBackups: 3,
			Compress:   true,
		}
		closer = rotator
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	l := New(zapcore.NewTee(cores...))
	l.closer = closer
	return l, nil
}

// New wraps an arbitrary zap core.
func New(core zapcore.Core) *Logger {
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{base: base, sugar: base.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(zapcore.NewNopCore())
}

func newEncoder(json bool, loc *time.Location) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "level"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = timeEncoder(loc)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// timeEncoder renders timestamps in loc; UTC gets a trailing Z.
func timeEncoder(loc *time.Location) zapcore.TimeEncoder {
	layout := "2006-01-02 15:04:05"
	if loc == nil || loc == time.UTC {
		loc = time.UTC
		layout += "Z"
	}
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(loc).Format(layout))
	}
}

// Close flushes buffered entries and closes the log file if one is open
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{base: sugar.Desugar(), sugar: sugar}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Log re-emits a record produced elsewhere at its own level.
func (l *Logger) Log(rec Record) {
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, rec.Fields[k]))
	}
	l.base.Log(rec.Level.zapLevel(), rec.Message, fields...)
}

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}

// VerbosityLevel maps a -verbose count to a level: 0 error, 1 info, 2+ debug.
func VerbosityLevel(verbose int) LogLevel {
	switch {
	case verbose <= 0:
		return Error
	case verbose == 1:
		return Info
	default:
		return Debug
	}
}
