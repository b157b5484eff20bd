package keystone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

var (
	ErrInvalidToken   = errors.New("keystone token is not valid")
	ErrUnavailable    = errors.New("keystone unavailable")
	ErrProjectMissing = errors.New("project not found")
	// ErrInvalidProjectID rejects ids that are not a single URL path segment.
	ErrInvalidProjectID = errors.New("invalid project id")
)

const (
	HeaderAuthToken    = "X-Auth-Token"
	HeaderSubjectToken = "X-Subject-Token"

	// service tokens are refreshed this long before Keystone expires them
	tokenRefreshMargin = time.Minute
	requestTimeout     = 10 * time.Second
)

type Client struct {
	cfg        config.KeystoneConfig
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu           sync.Mutex
	serviceToken string
	expiresAt    time.Time
}

func NewClient(cfg config.KeystoneConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.AuthURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}
}

type passwordAuthRequest struct {
	Auth struct {
		Identity struct {
			Methods  []string `json:"methods"`
			Password struct {
				User struct {
					Name     string `json:"name"`
					Password string `json:"password"`
					Domain   struct {
						ID string `json:"id"`
					} `json:"domain"`
				} `json:"user"`
			} `json:"password"`
		} `json:"identity"`
		Scope struct {
			Project struct {
				Name   string `json:"name"`
				Domain struct {
					ID string `json:"id"`
				} `json:"domain"`
			} `json:"project"`
		} `json:"scope"`
	} `json:"auth"`
}

type tokenResponse struct {
	Token struct {
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"token"`
}

type projectResponse struct {
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
}

// ServiceToken returns a cached service token, authenticating with the configured
// password credentials when the cached one is missing or about to expire.
func (c *Client) ServiceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serviceToken != "" && c.now().Add(tokenRefreshMargin).Before(c.expiresAt) {
		return c.serviceToken, nil
	}

	var body passwordAuthRequest
	body.Auth.Identity.Methods = []string{"password"}
	body.Auth.Identity.Password.User.Name = c.cfg.Username
	body.Auth.Identity.Password.User.Password = c.cfg.Password
	body.Auth.Identity.Password.User.Domain.ID = c.cfg.UserDomainID
	body.Auth.Scope.Project.Name = c.cfg.ProjectName
	body.Auth.Scope.Project.Domain.ID = c.cfg.ProjectDomainID

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/auth/tokens", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, raw, err := c.do(ctx, "service_token", req, logger.MaskingRule{Field: "body.auth.identity.password.user.password", Type: logger.MaskingTypeFull})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: service authentication returned %d", ErrUnavailable, resp.StatusCode)
	}
	token := resp.Header.Get(HeaderSubjectToken)
	if token == "" {
		return "", fmt.Errorf("%w: no %s in authentication response", ErrUnavailable, HeaderSubjectToken)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("%w: decode token response: %w", ErrUnavailable, err)
	}
	c.serviceToken = token
	c.expiresAt = tr.Token.ExpiresAt
	return token, nil
}

func (c *Client) dropServiceToken() {
	c.mu.Lock()
	c.serviceToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ValidateToken checks a caller's token. The service token authorizes the check.
func (c *Client) ValidateToken(ctx context.Context, subjectToken string) error {
	if subjectToken == "" {
		return ErrInvalidToken
	}
	serviceToken, err := c.ServiceToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/auth/tokens", nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAuthToken, serviceToken)
	req.Header.Set(HeaderSubjectToken, subjectToken)

	resp, _, err := c.do(ctx, "validate_token", req)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrInvalidToken
	case http.StatusUnauthorized:
		// the service token itself was rejected
		c.dropServiceToken()
		return fmt.Errorf("%w: service token rejected", ErrUnavailable)
	default:
		return fmt.Errorf("%w: token validation returned %d", ErrUnavailable, resp.StatusCode)
	}
}

// ProjectName resolves a project id to its name.
func (c *Client) ProjectName(ctx context.Context, projectID string) (string, error) {
	if !isPathSegment(projectID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	serviceToken, err := c.ServiceToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/projects/"+url.PathEscape(projectID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(HeaderAuthToken, serviceToken)

	resp, raw, err := c.do(ctx, "get_project", req)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrProjectMissing, projectID)
	case http.StatusUnauthorized:
		c.dropServiceToken()
		return "", fmt.Errorf("%w: service token rejected", ErrUnavailable)
	default:
		return "", fmt.Errorf("%w: project lookup returned %d", ErrUnavailable, resp.StatusCode)
	}

	var pr projectResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", fmt.Errorf("%w: decode project: %w", ErrUnavailable, err)
	}
	return pr.Project.Name, nil
}

func isPathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && url.PathEscape(s) == s
}

func (c *Client) do(ctx context.Context, name string, req *http.Request, masking ...logger.MaskingRule) (*http.Response, []byte, error) {
	log := mlog.L(ctx)
	start := time.Now()

	reqLog := map[string]any{
		"method": req.Method,
		"url":    req.URL.String(),
	}
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			var body any
			if json.NewDecoder(rc).Decode(&body) == nil {
				reqLog["body"] = body
			}
			rc.Close()
		}
	}
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: "keystone",
	}).Debug(logAction.HTTP_REQUEST(name), reqLog, masking...)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error(logAction.EXCEPTION(name), map[string]any{"error": err.Error()})
		return nil, nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   "keystone",
		ResponseTime: time.Since(start).Milliseconds(),
	}).Debug(logAction.HTTP_RESPONSE(name), map[string]any{
		"status": resp.StatusCode,
	})
	return resp, raw, nil
}
