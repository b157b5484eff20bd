package mlog

import (
	"context"
	"sync"

	"github.com/sing3demons/instance-identity/pkg/logger"
)

var (
	mu       sync.RWMutex
	fallback logger.ILogger = logger.NewLogger("", "")
)

// SetDefault replaces the logger returned by L when a context carries none.
// Background work (rotation ticks, startup) logs through it.
func SetDefault(l logger.ILogger) {
	if l == nil {
		return
	}
	mu.Lock()
	fallback = l
	mu.Unlock()
}

func Default() logger.ILogger {
	mu.RLock()
	defer mu.RUnlock()
	return fallback
}

// L returns the request-scoped logger stored in ctx, or the default logger.
func L(ctx context.Context) logger.ILogger {
	if l := logger.GetLogger(ctx); l != nil {
		return l
	}
	return Default()
}
