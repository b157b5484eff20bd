package kp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/sing3demons/instance-identity/pkg/logger"
)

func newTestCtx(req *http.Request) (*Ctx, *httptest.ResponseRecorder, *bytes.Buffer) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	lg := logger.NewLoggerWithWriter("test", "1.0.0", logger.DefaultConfig(), &buf)
	ctx := &Ctx{
		Res: rec,
		Req: req.WithContext(logger.SetLogger(req.Context(), lg)),
		Cfg: &config.AppConfig{},
		Log: lg,
	}
	ctx.TransactionID()
	ctx.SessionID()
	return ctx, rec, &buf
}

func TestCtx_Bind_JSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "Valid JSON",
			body: `{"instance-id":"i-1","count":25}`,
			want: map[string]any{"instance-id": "i-1", "count": float64(25)},
		},
		{
			name:    "Invalid JSON",
			body:    `{invalid}`,
			wantErr: true,
		},
		{
			name:    "Empty body",
			body:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			ctx, _, _ := newTestCtx(req)

			var result map[string]any
			err := ctx.Bind(&result)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Bind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				for k, v := range tt.want {
					if result[k] != v {
						t.Errorf("got %v, want %v", result, tt.want)
					}
				}
			}
		})
	}
}

func TestCtx_Bind_CanBeCalledTwice(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":"b"}`))
	req.Header.Set("Content-Type", "application/json")
	ctx, _, _ := newTestCtx(req)

	var first, second map[string]any
	if err := ctx.Bind(&first); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := ctx.Bind(&second); err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if second["a"] != "b" {
		t.Errorf("body not restored, got %v", second)
	}
}

func TestCtx_Bind_UnsupportedContentType(t *testing.T) {
	for _, ct := range []string{"application/xml", "application/x-www-form-urlencoded"} {
		t.Run(ct, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("a=1"))
			req.Header.Set("Content-Type", ct)
			ctx, _, _ := newTestCtx(req)

			var result map[string]any
			err := ctx.Bind(&result)
			if err == nil || !strings.Contains(err.Error(), "unsupported content type") {
				t.Fatalf("expected unsupported content type error, got %v", err)
			}
		})
	}
}

func TestCtx_Bind_TooLarge(t *testing.T) {
	body := `{"a":"` + strings.Repeat("x", MaxBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx, _, _ := newTestCtx(req)

	var result map[string]any
	if err := ctx.Bind(&result); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestCtx_TransactionIDFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("x-transaction-id", "tid-123")
	ctx, _, _ := newTestCtx(req)

	if got := ctx.TransactionID(); got != "tid-123" {
		t.Errorf("expected tid-123, got %s", got)
	}
	if ctx.Log.TransactionID() != "tid-123" {
		t.Errorf("logger not tagged with transaction id")
	}
}

func TestCtx_TransactionIDGenerated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx, _, _ := newTestCtx(req)

	first := ctx.TransactionID()
	if first == "" {
		t.Fatal("expected generated transaction id")
	}
	if ctx.TransactionID() != first {
		t.Error("transaction id must be stable within a request")
	}
}

func TestCtx_JSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
	ctx, rec, buf := newTestCtx(req)

	ctx.JSON(http.StatusOK, map[string]string{"token": "secret-token-value"}, logger.MaskingRule{
		Field: "body.token",
		Type:  logger.MaskingTypeFull,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %s", ct)
	}
	if rec.Header().Get("x-transaction-id") == "" {
		t.Error("expected transaction id header")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["token"] != "secret-token-value" {
		t.Errorf("response body must not be masked, got %v", body)
	}
	if strings.Contains(buf.String(), "secret-token-value") {
		t.Error("token leaked into logs")
	}
	if !strings.Contains(buf.String(), `"type":"summary"`) {
		t.Error("expected summary log after JSON")
	}
}

func TestCtx_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "kp error keeps status",
			err:      NewError(http.StatusBadRequest, "invalid_request", errors.New("hostname is required")),
			wantCode: http.StatusBadRequest,
			wantBody: "invalid_request",
		},
		{
			name:     "plain error is server_error",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantBody: "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			ctx, rec, _ := newTestCtx(req)

			ctx.Fail(tt.err)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] != tt.wantBody {
				t.Errorf("expected error %q, got %q", tt.wantBody, body["error"])
			}
		})
	}
}

func TestCtx_HeadersHidesCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Auth-Token", "gAAAAA-token")
	req.Header.Set("Accept", "application/json")
	ctx, _, _ := newTestCtx(req)

	h := ctx.Headers()
	if h["X-Auth-Token"] != "***" {
		t.Errorf("auth token not hidden: %v", h)
	}
	if h["Accept"] != "application/json" {
		t.Errorf("unexpected accept header: %v", h)
	}
}

func TestStatusMessage(t *testing.T) {
	if got := statusMessage(http.StatusBadGateway); got != "bad_gateway" {
		t.Errorf("got %s", got)
	}
	if got := statusMessage(799); got != "unknown_status" {
		t.Errorf("got %s", got)
	}
}
