package logger

import (
	"os"
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel string

const (
	InfoLevel  LogLevel = "INFO"
	ErrorLevel LogLevel = "ERROR"
	DebugLevel LogLevel = "DEBUG"
)

var (
	emailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tokenRegex  = regexp.MustCompile(`eyJ[^\s]+`)
	userIDRegex = regexp.MustCompile(`\buser_id\s*=\s*[\w-]+`)
)

// Logger is a centralized structured logger writing one JSON object per line.
type Logger struct {
	out *zap.Logger
}

// New creates a Logger writing to stdout.
func New() *Logger {
	return NewWithCore(zapcore.NewCore(jsonEncoder(), zapcore.Lock(os.Stdout), zapcore.DebugLevel))
}

// NewWithCore builds a Logger over an arbitrary zap core. Tests use it with an observer.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{out: zap.New(core)}
}

func jsonEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Anonymize replaces sensitive information in logs (emails, tokens, user ids)
func Anonymize(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = userIDRegex.ReplaceAllString(s, "user_id=[USER_ID]")
	return s
}

func (l *Logger) log(module string, level LogLevel, msg string, err error) {
	fields := make([]zap.Field, 0, 2)
	if module != "" {
		fields = append(fields, zap.String("module", module))
	}
	if err != nil {
		fields = append(fields, zap.String("error", Anonymize(err.Error())))
	}
	msg = Anonymize(msg)

	switch level {
	case ErrorLevel:
		l.out.Error(msg, fields...)
	case DebugLevel:
		l.out.Debug(msg, fields...)
	default:
		l.out.Info(msg, fields...)
	}
}

// --- Convenient methods ---
func (l *Logger) Info(module, msg string) {
	l.log(module, InfoLevel, msg, nil)
}

func (l *Logger) Debug(module, msg string) {
	l.log(module, DebugLevel, msg, nil)
}

func (l *Logger) Error(module, msg string, err error) {
	l.log(module, ErrorLevel, msg, err)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.out.Sync()
}
