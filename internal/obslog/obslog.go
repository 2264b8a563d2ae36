// Package obslog is a thin, centralized wrapper over zap for the whole
// module: an atomic level, a console encoder, and SetRotation, which
// swaps the output to a rotated file by rebuilding the logger under a
// mutex.
package obslog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu         sync.Mutex
	log        *zap.Logger
	logLevel                       = zap.NewAtomicLevelAt(zap.InfoLevel)
	encoderCfg                     = defaultEncoderConfig()
	out        zapcore.WriteSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
)

func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func init() {
	rebuildLocked()
}

func rebuildLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, out, logLevel)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init sets the log level. Accepted values: debug, info (default), warn,
// error; comparison is case-insensitive.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}
}

// SetRotation points the logger at a rotated file via lumberjack, useful
// for a long-running host process hosting many dispatcher instances.
func SetRotation(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	mu.Lock()
	defer mu.Unlock()

	out = zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	})
	rebuildLocked()
}

func Debugf(format string, args ...any) { logf(zap.DebugLevel, format, args...) }
func Infof(format string, args ...any)  { logf(zap.InfoLevel, format, args...) }
func Warnf(format string, args ...any)  { logf(zap.WarnLevel, format, args...) }
func Errorf(format string, args ...any) { logf(zap.ErrorLevel, format, args...) }

func logf(lvl zapcore.Level, format string, args ...any) {
	mu.Lock()
	l := log
	mu.Unlock()

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if ce := l.Check(lvl, msg); ce != nil {
		ce.Write()
	}
}
