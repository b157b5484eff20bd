package identity

import (
	"context"
	"errors"
	"time"

	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

var ErrDirectoryUnavailable = errors.New("project directory unavailable")

type TokenIssuer interface {
	IssueToken(ctx context.Context, subject string, claims map[string]any) (string, time.Time, error)
}

type ProjectDirectory interface {
	ProjectName(ctx context.Context, projectID string) (string, error)
}

type LookupRecorder interface {
	DirectoryLookup(source string, err error)
}

type Option func(*IdentityService)

// WithProjectNames enables the project-name claim.
func WithProjectNames(dir ProjectDirectory, cache ProjectNameCache) Option {
	return func(s *IdentityService) {
		s.directory = dir
		s.cache = cache
	}
}

func WithLookupRecorder(r LookupRecorder) Option {
	return func(s *IdentityService) {
		s.recorder = r
	}
}

type IdentityService struct {
	issuer    TokenIssuer
	directory ProjectDirectory
	cache     ProjectNameCache
	recorder  LookupRecorder
}

func NewIdentityService(issuer TokenIssuer, opts ...Option) *IdentityService {
	s := &IdentityService{issuer: issuer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueInstanceToken mints the identity token for one instance. The subject is the instance id.
func (s *IdentityService) IssueInstanceToken(ctx context.Context, req VendordataRequest) (string, time.Time, error) {
	claims := req.Claims()
	if s.directory != nil {
		name, err := s.projectName(ctx, req.ProjectID)
		if err != nil {
			return "", time.Time{}, err
		}
		claims[ClaimProjectName] = name
	}
	return s.issuer.IssueToken(ctx, req.InstanceID, claims)
}

func (s *IdentityService) projectName(ctx context.Context, projectID string) (string, error) {
	if s.cache != nil {
		if name, ok := s.cache.Get(ctx, projectID); ok {
			s.record("cache", nil)
			return name, nil
		}
	}

	name, err := s.directory.ProjectName(ctx, projectID)
	s.record("keystone", err)
	if err != nil {
		mlog.L(ctx).Error(logAction.EXCEPTION("project name lookup"), map[string]any{
			"projectId": projectID,
			"error":     err.Error(),
		})
		return "", errors.Join(ErrDirectoryUnavailable, err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, projectID, name)
	}
	return name, nil
}

func (s *IdentityService) record(source string, err error) {
	if s.recorder != nil {
		s.recorder.DirectoryLookup(source, err)
	}
}
