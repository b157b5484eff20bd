package kp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

// RecoverMiddleware turns a panic in the handler chain into a 500 JSON response.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}

			lg := mlog.L(r.Context())
			lg.Error(logAction.EXCEPTION("panic recovered"), map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"panic":    err.Error(),
				"duration": time.Since(start).Milliseconds(),
				"stack":    string(debug.Stack()),
			})
			if logger.GetLogger(r.Context()) != nil {
				lg.FlushError(http.StatusInternalServerError, "internal_server_error")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal_server_error"})
		}()

		next.ServeHTTP(w, r)
	})
}
