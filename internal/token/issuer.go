package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sing3demons/instance-identity/internal/keyring"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

var (
	ErrSigningFailure = errors.New("token signing failed")
	ErrInvalidSubject = errors.New("subject is required")
)

// registeredClaims are set by the issuer. Caller claims with these names are
// dropped unless AllowClaimOverride is set.
var registeredClaims = []string{"iss", "sub", "aud", "iat", "exp", "jti"}

type KeySource interface {
	Algorithm() string
	MaybeRotate(ctx context.Context, now time.Time) (bool, error)
	CurrentSigningKey() (keyring.SigningKeyPair, error)
}

// Recorder receives issuance outcomes, e.g. for metrics.
type Recorder interface {
	TokenIssued(alg string, signDuration time.Duration)
	TokenFailed(alg string)
}

type Config struct {
	Issuer   string
	Audience string
	Lifetime time.Duration
	// AllowClaimOverride lets caller claims replace registered ones.
	AllowClaimOverride bool
}

type Option func(*TokenIssuer)

func WithClock(now func() time.Time) Option {
	return func(i *TokenIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(i *TokenIssuer) {
		i.recorder = r
	}
}

type TokenIssuer struct {
	keys     KeySource
	cfg      Config
	now      func() time.Time
	recorder Recorder
}

func NewTokenIssuer(keys KeySource, cfg Config, opts ...Option) *TokenIssuer {
	i := &TokenIssuer{keys: keys, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueToken signs the registered claims merged with claims for subject, after giving
// the key ring a chance to rotate. It returns the compact JWS and its expiry.
func (i *TokenIssuer) IssueToken(ctx context.Context, subject string, claims map[string]any) (string, time.Time, error) {
	log := mlog.L(ctx)
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, ErrInvalidSubject
	}
	now := i.now()

	if _, err := i.keys.MaybeRotate(ctx, now); err != nil {
		if !errors.Is(err, keyring.ErrPersistenceFailure) {
			i.failed(i.keys.Algorithm())
			return "", time.Time{}, fmt.Errorf("%w: rotate: %w", ErrSigningFailure, err)
		}
		// the new key is live in memory
		log.Warn(logAction.BUSINESS("rotation not persisted"), map[string]any{"error": err.Error()})
	}

	expiresAt := now.Add(i.cfg.Lifetime)
	merged, dropped := i.mergeClaims(subject, claims, now, expiresAt)
	if len(dropped) > 0 {
		log.Warn(logAction.BUSINESS("caller claims collide with registered claims"), map[string]any{
			"dropped": dropped,
		})
	}

	pair, err := i.keys.CurrentSigningKey()
	if err != nil {
		i.failed(i.keys.Algorithm())
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}
	method := jwt.GetSigningMethod(pair.Algorithm)
	if method == nil {
		i.failed(pair.Algorithm)
		return "", time.Time{}, fmt.Errorf("%w: no signing method for %s", ErrSigningFailure, pair.Algorithm)
	}

	start := time.Now()
	tok := jwt.NewWithClaims(method, merged)
	tok.Header["kid"] = pair.KID
	tok.Header["typ"] = "JWT"
	signed, err := tok.SignedString(pair.PrivateKey())
	if err != nil {
		i.failed(pair.Algorithm)
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}
	if i.recorder != nil {
		i.recorder.TokenIssued(pair.Algorithm, time.Since(start))
	}

	log.Debug(logAction.BUSINESS("identity token issued"), map[string]any{
		"sub":       subject,
		"kid":       pair.KID,
		"jti":       merged["jti"],
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
	return signed, expiresAt, nil
}

func (i *TokenIssuer) failed(alg string) {
	if i.recorder != nil {
		i.recorder.TokenFailed(alg)
	}
}

// mergeClaims builds the claim set. It returns the caller keys that were ignored.
func (i *TokenIssuer) mergeClaims(subject string, claims map[string]any, now, expiresAt time.Time) (jwt.MapClaims, []string) {
	registered := jwt.MapClaims{
		"iss": i.cfg.Issuer,
		"sub": subject,
		"aud": i.cfg.Audience,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(expiresAt),
		"jti": uuid.NewString(),
	}

	merged := make(jwt.MapClaims, len(registered)+len(claims))
	var dropped []string
	if i.cfg.AllowClaimOverride {
		for k, v := range registered {
			merged[k] = v
		}
		for k, v := range claims {
			merged[k] = v
		}
		return merged, nil
	}

	for k, v := range claims {
		if _, ok := registered[k]; ok {
			dropped = append(dropped, k)
			continue
		}
		merged[k] = v
	}
	for k, v := range registered {
		merged[k] = v
	}
	sort.Strings(dropped)
	return merged, dropped
}

// RegisteredClaims lists the claim names the issuer always sets.
func RegisteredClaims() []string {
	return append([]string(nil), registeredClaims...)
}
