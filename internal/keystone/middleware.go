package keystone

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, subjectToken string) error
}

// PublicPrefixes are served without a token.
var PublicPrefixes = []string{"/.well-known", "/metrics"}

// AuthMiddleware rejects requests whose X-Auth-Token Keystone does not accept.
// Paths under PublicPrefixes pass through untouched.
func AuthMiddleware(validator TokenValidator, publicPrefixes ...string) func(http.Handler) http.Handler {
	if len(publicPrefixes) == 0 {
		publicPrefixes = PublicPrefixes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			err := validator.ValidateToken(r.Context(), r.Header.Get(HeaderAuthToken))
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			status, code := http.StatusUnauthorized, "unauthorized"
			if errors.Is(err, ErrUnavailable) {
				status, code = http.StatusServiceUnavailable, "auth_unavailable"
			}
			mlog.L(r.Context()).Warn(logAction.EXCEPTION("request rejected"), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": status,
				"error":  err.Error(),
			})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
		})
	}
}
