package keyring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sing3demons/instance-identity/pkg/jwks"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

const DefaultMaxKeys = 3

// persistTimeout bounds one state write.
const persistTimeout = 10 * time.Second

// RotationEvent describes a completed rotation. It is delivered after the lock is released.
type RotationEvent struct {
	KID       string
	Algorithm string
	RotatedAt time.Time
	// Keys is the size of the published key set after the rotation.
	Keys int
	JWK  jwks.JWK
	// PersistErr is set when the new history could not be saved.
	PersistErr error
}

type Option func(*KeyRing)

// WithMaxKeys bounds the public key history. Values below 1 are ignored.
func WithMaxKeys(n int) Option {
	return func(k *KeyRing) {
		if n >= 1 {
			k.maxKeys = n
		}
	}
}

// WithRotationPeriod sets how long a key stays active. Zero rotates on every check.
func WithRotationPeriod(d time.Duration) Option {
	return func(k *KeyRing) {
		if d >= 0 {
			k.period = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(k *KeyRing) {
		if now != nil {
			k.now = now
		}
	}
}

// WithOnRotate registers a callback run after every rotation, outside the lock.
func WithOnRotate(fn func(ctx context.Context, ev RotationEvent)) Option {
	return func(k *KeyRing) {
		if fn != nil {
			k.onRotate = append(k.onRotate, fn)
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l logger.ILogger) Option {
	return func(k *KeyRing) {
		if l != nil {
			k.log = l
		}
	}
}

// KeyRing owns the active signing key and the bounded history of public keys.
// One mutex guards both; key generation and signing happen outside it.
type KeyRing struct {
	alg      string
	maxKeys  int
	period   time.Duration
	store    StateStore
	now      func() time.Time
	onRotate []func(ctx context.Context, ev RotationEvent)
	log      logger.ILogger

	mu           sync.Mutex
	active       *SigningKeyPair
	lastRotation time.Time
	history      []jwks.JWK
}

// New loads the persisted history and generates the first active key.
// A corrupt state or a failed first write is returned as an error.
func New(ctx context.Context, alg string, store StateStore, opts ...Option) (*KeyRing, error) {
	if _, err := specFor(alg); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("keyring: state store is required")
	}
	k := &KeyRing{
		alg:     alg,
		maxKeys: DefaultMaxKeys,
		period:  24 * time.Hour,
		store:   store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}

	if _, err := k.LoadState(ctx); err != nil {
		return nil, err
	}
	if _, err := k.GenerateKey(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *KeyRing) Algorithm() string { return k.alg }

func (k *KeyRing) logger(ctx context.Context) logger.ILogger {
	if l := logger.GetLogger(ctx); l != nil {
		return l
	}
	if k.log != nil {
		return k.log
	}
	return mlog.Default()
}

// LoadState replaces the in-memory history with the persisted one. Missing state
// yields an empty history. If more keys are stored than the ring keeps, the newest win.
func (k *KeyRing) LoadState(ctx context.Context) ([]jwks.JWK, error) {
	keys, err := k.store.Load(ctx)
	if err != nil {
		k.logger(ctx).Error(logAction.EXCEPTION("load jwks state"), map[string]any{"error": err.Error()})
		return nil, err
	}
	if len(keys) > k.maxKeys {
		keys = keys[len(keys)-k.maxKeys:]
	}

	k.mu.Lock()
	k.history = append([]jwks.JWK(nil), keys...)
	out := append([]jwks.JWK(nil), k.history...)
	k.mu.Unlock()

	k.logger(ctx).Info(logAction.BUSINESS("jwks state loaded"), map[string]any{"keys": len(out)})
	return out, nil
}

// GenerateKey creates a key and makes it active unconditionally.
// On ErrPersistenceFailure the returned key is active anyway.
func (k *KeyRing) GenerateKey(ctx context.Context) (SigningKeyPair, error) {
	pair, _, err := k.rotate(ctx, k.now(), false)
	return pair, err
}

// MaybeRotate generates a new key when now is at or past lastRotation+period.
// Concurrent callers that find the same rotation due produce a single rotation.
func (k *KeyRing) MaybeRotate(ctx context.Context, now time.Time) (bool, error) {
	if !k.due(now) {
		return false, nil
	}
	_, rotated, err := k.rotate(ctx, now, true)
	return rotated, err
}

func (k *KeyRing) due(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dueLocked(now)
}

func (k *KeyRing) dueLocked(now time.Time) bool {
	return k.active == nil || !now.Before(k.lastRotation.Add(k.period))
}

func (k *KeyRing) rotate(ctx context.Context, now time.Time, onlyIfDue bool) (SigningKeyPair, bool, error) {
	pair, err := newSigningKeyPair(k.alg, now)
	if err != nil {
		return SigningKeyPair{}, false, err
	}
	entry := pair.JWK()

	k.mu.Lock()
	if onlyIfDue && !k.dueLocked(now) {
		k.mu.Unlock()
		return SigningKeyPair{}, false, nil
	}
	k.active = &pair
	k.lastRotation = now
	k.history = append(k.history, entry)
	var evicted []string
	for len(k.history) > k.maxKeys {
		evicted = append(evicted, k.history[0].Kid)
		k.history = k.history[1:]
	}
	snapshot := append([]jwks.JWK(nil), k.history...)
	persistErr := k.persist(ctx, snapshot)
	k.mu.Unlock()

	log := k.logger(ctx)
	log.Info(logAction.BUSINESS("signing key rotated"), map[string]any{
		"kid":     pair.KID,
		"alg":     pair.Algorithm,
		"keys":    len(snapshot),
		"evicted": evicted,
	})
	if persistErr != nil {
		persistErr = fmt.Errorf("%w: %w", ErrPersistenceFailure, persistErr)
		log.Error(logAction.EXCEPTION("persist jwks state"), map[string]any{
			"kid":   pair.KID,
			"error": persistErr.Error(),
		})
	}

	ev := RotationEvent{
		KID:        pair.KID,
		Algorithm:  pair.Algorithm,
		RotatedAt:  now,
		Keys:       len(snapshot),
		JWK:        entry,
		PersistErr: persistErr,
	}
	for _, fn := range k.onRotate {
		fn(ctx, ev)
	}
	return pair, true, persistErr
}

// persist saves snapshot on a context detached from the caller. A request that hangs
// up mid-rotation must not leave the new key live in memory but missing from storage.
func (k *KeyRing) persist(ctx context.Context, snapshot []jwks.JWK) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return k.store.Save(saveCtx, snapshot)
}

func (k *KeyRing) CurrentSigningKey() (SigningKeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active == nil {
		return SigningKeyPair{}, ErrNoActiveKey
	}
	return *k.active, nil
}

// PublicKeySet returns a copy of the history, oldest first. The last entry is the active key.
func (k *KeyRing) PublicKeySet() []jwks.JWK {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]jwks.JWK(nil), k.history...)
}

// LastRotation is when the active key was installed.
func (k *KeyRing) LastRotation() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastRotation
}
