package keyring

import (
	"context"
	"errors"
	"time"

	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

type rotationChecker interface {
	MaybeRotate(ctx context.Context, now time.Time) (bool, error)
}

// Rotator checks for a due rotation on a fixed interval so an idle service still rotates.
type Rotator struct {
	ring     rotationChecker
	interval time.Duration
	now      func() time.Time
}

func NewRotator(ring rotationChecker, interval time.Duration) *Rotator {
	return &Rotator{ring: ring, interval: interval, now: time.Now}
}

func (r *Rotator) Enabled() bool {
	return r != nil && r.interval > 0
}

// Run blocks until ctx is done. It returns immediately when the interval is zero.
func (r *Rotator) Run(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log := mlog.L(ctx)
	log.Info(logAction.BUSINESS("key rotator started"), map[string]any{"interval": r.interval.String()})
	for {
		select {
		case <-ctx.Done():
			log.Info(logAction.BUSINESS("key rotator stopped"), nil)
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Rotator) tick(ctx context.Context) {
	_, err := r.ring.MaybeRotate(ctx, r.now())
	if err != nil && !errors.Is(err, ErrPersistenceFailure) {
		mlog.L(ctx).Error(logAction.EXCEPTION("scheduled key rotation"), map[string]any{"error": err.Error()})
	}
}
