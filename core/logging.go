package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var (
	baseMu     sync.RWMutex
	baseLogger = zap.NewNop().Sugar()
)

// InitLogger builds the process logger. It is meant to be called once at startup.
func InitLogger(level string, development bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}

// SetLogger replaces the base logger used when a context carries none.
func SetLogger(l *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	baseLogger = l.Sugar()
}

func base() *zap.SugaredLogger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseLogger
}

// WithDefaultLogger returns a context carrying a logger tagged with reqId
func WithDefaultLogger(parent context.Context, reqId string) context.Context {
	return context.WithValue(parent, loggerKey{}, base().With("req_id", reqId))
}

// Logger returns the logger stored in ctx or the base logger.
func Logger(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
			return l
		}
	}
	return base()
}

func Infof(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Infof(tpl, args...)
}

func Warnf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Warnf(tpl, args...)
}

func Errorf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Errorf(tpl, args...)
}

func Debugf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Debugf(tpl, args...)
}
