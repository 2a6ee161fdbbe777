package zkattend

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used by the client and the scanner.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Log is the package default, used when no logger is passed explicitly.
var Log Logger

var logMu sync.Mutex

// NewLogger builds a console zap logger at the given level
// (debug, info, warn or error; empty means info).
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(strings.ToLower(level)); err != nil {
			return nil, err
		}
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// DefaultLogger returns Log, building an info-level zap logger on first use.
func DefaultLogger() Logger {
	logMu.Lock()
	defer logMu.Unlock()
	if Log == nil {
		l, err := NewLogger("info")
		if err != nil {
			Log = zap.NewNop().Sugar()
		} else {
			Log = l
		}
	}
	return Log
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}
