package kp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
)

const MaxBodySize = 1 << 20 // 1 MB

type ContentType string

const ContentTypeJSON ContentType = "application/json"

type CtxKey string

const (
	SessionID     CtxKey = "x-session-id"
	TransactionID CtxKey = "x-transaction-id"
)

type Ctx struct {
	Res http.ResponseWriter
	Req *http.Request
	Cfg *config.AppConfig
	Log logger.ILogger
}

func newMuxContext(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig) *Ctx {
	var lc *logger.LoggerConfig
	service, version := "", ""
	if cfg != nil {
		lc = &cfg.LoggerConfig
		service, version = cfg.ServiceName, cfg.Version
	}
	csLog := logger.NewLoggerWithConfig(service, version, lc)

	c := &Ctx{
		Res: w,
		Req: r.WithContext(logger.SetLogger(r.Context(), csLog)),
		Cfg: cfg,
		Log: csLog,
	}
	c.TransactionID()
	c.SessionID()
	return c
}

// TransactionID returns the request's transaction id: context value, then the
// x-transaction-id header, then a fresh UUID. The result is stored on the context and logger.
func (c *Ctx) TransactionID() string {
	return c.correlationID(TransactionID, c.Log.SetTransactionID)
}

func (c *Ctx) SessionID() string {
	return c.correlationID(SessionID, c.Log.SetSessionID)
}

func (c *Ctx) correlationID(key CtxKey, set func(string)) string {
	if v, ok := c.Req.Context().Value(key).(string); ok && v != "" {
		return v
	}
	id := strings.TrimSpace(c.Req.Header.Get(string(key)))
	if id == "" {
		id = uuid.NewString()
	}
	c.Req = c.Req.WithContext(context.WithValue(c.Req.Context(), key, id))
	set(id)
	return id
}

func (c *Ctx) Context() context.Context {
	if c.Req == nil {
		return context.Background()
	}
	return c.Req.Context()
}

func (c *Ctx) Params(name string) string {
	return c.Req.PathValue(name)
}

// Bind decodes the request body into v. The body is restored so it can be read again.
func (c *Ctx) Bind(v any) error {
	if c.Req.Method == http.MethodGet || c.Req.Method == http.MethodHead || c.Req.Body == nil {
		return nil
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(c.Req.Body, MaxBodySize+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bodyBytes) > MaxBodySize {
		return fmt.Errorf("request body too large (max %d bytes)", MaxBodySize)
	}
	c.Req.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	contentType := strings.TrimSpace(strings.Split(c.Req.Header.Get("Content-Type"), ";")[0])
	switch ContentType(contentType) {
	case ContentTypeJSON, "":
		if len(bodyBytes) == 0 {
			return errors.New("empty JSON body")
		}
		if err := json.Unmarshal(bodyBytes, v); err != nil {
			return fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported content type: %s", contentType)
	}
}

// L starts the use case: tags the logger and writes the inbound detail log.
func (c *Ctx) L(useCase string, masking ...logger.MaskingRule) logger.ILogger {
	c.Log.SetUseCase(useCase)

	var body any
	if c.Req.Method != http.MethodGet && c.Req.Method != http.MethodHead {
		m := map[string]any{}
		if err := c.Bind(&m); err == nil {
			body = m
		}
	}

	c.Log.Info(logAction.INBOUND(fmt.Sprintf("client %s %s server", c.Req.Method, c.Req.URL.Path)), map[string]any{
		"method":  c.Req.Method,
		"url":     c.Req.URL.String(),
		"headers": c.Headers(),
		"body":    body,
		"remote":  c.Req.RemoteAddr,
	}, masking...)
	return c.Log
}

// Headers flattens request headers for logging. Credentials are never logged.
func (c *Ctx) Headers() map[string]string {
	headers := make(map[string]string, len(c.Req.Header))
	for key, values := range c.Req.Header {
		switch http.CanonicalHeaderKey(key) {
		case "X-Auth-Token", "Authorization", "Cookie":
			headers[key] = "***"
		default:
			headers[key] = strings.Join(values, ", ")
		}
	}
	return headers
}

func (c *Ctx) JSON(code int, v any, masking ...logger.MaskingRule) {
	c.writeJSON(code, v, masking)
	c.Log.Flush(code, statusMessage(code))
}

func (c *Ctx) JSONError(code int, v any, err error) {
	c.writeJSON(code, v, nil)
	if err != nil {
		c.Log.AddMetadata("ErrorCode", err.Error())
	}
	c.Log.FlushError(code, statusMessage(code))
}

// Fail writes err as a JSON error. *Error values keep their status and code;
// anything else is a 500 server_error.
func (c *Ctx) Fail(err error) {
	var kpErr *Error
	if errors.As(err, &kpErr) {
		c.JSONError(kpErr.Status(), kpErr.Json(), err)
		return
	}
	c.JSONError(http.StatusInternalServerError, map[string]string{"error": "server_error"}, err)
}

func (c *Ctx) writeJSON(code int, v any, masking []logger.MaskingRule) {
	c.Res.Header().Set("Content-Type", "application/json")
	c.Res.Header().Set(string(SessionID), c.Log.SessionID())
	c.Res.Header().Set(string(TransactionID), c.Log.TransactionID())
	c.Res.WriteHeader(code)
	json.NewEncoder(c.Res).Encode(v)

	c.Log.Info(logAction.OUTBOUND("server response to client"), map[string]any{
		"status":  code,
		"headers": c.Res.Header(),
		"body":    v,
	}, masking...)
}

func statusMessage(code int) string {
	msg := http.StatusText(code)
	if msg == "" {
		return "unknown_status"
	}
	return strings.ToLower(strings.ReplaceAll(msg, " ", "_"))
}
