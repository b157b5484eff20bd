package identity

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sing3demons/instance-identity/internal/database"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

const (
	DefaultProjectNameTTL = 10 * time.Minute
	projectKeyPrefix      = "project_name:"
)

// ProjectNameCache remembers directory lookups. A miss is ("", false).
type ProjectNameCache interface {
	Get(ctx context.Context, projectID string) (string, bool)
	Set(ctx context.Context, projectID, name string)
}

type memoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) ProjectNameCache {
	return &memoryCache{c: cache.New(ttl, 2*ttl)}
}

func (m *memoryCache) Get(_ context.Context, projectID string) (string, bool) {
	v, ok := m.c.Get(projectID)
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

func (m *memoryCache) Set(_ context.Context, projectID, name string) {
	m.c.SetDefault(projectID, name)
}

type redisCache struct {
	rdb database.IRedisClient
	ttl time.Duration
}

// NewRedisCache shares lookups between replicas. Redis errors degrade to a miss.
func NewRedisCache(rdb database.IRedisClient, ttl time.Duration) ProjectNameCache {
	return &redisCache{rdb: rdb, ttl: ttl}
}

func (r *redisCache) Get(ctx context.Context, projectID string) (string, bool) {
	name, err := r.rdb.Get(ctx, projectKeyPrefix+projectID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			mlog.L(ctx).Warn(logAction.EXCEPTION("project name cache read"), map[string]any{"error": err.Error()})
		}
		return "", false
	}
	return name, true
}

func (r *redisCache) Set(ctx context.Context, projectID, name string) {
	if err := r.rdb.Set(ctx, projectKeyPrefix+projectID, name, r.ttl); err != nil {
		mlog.L(ctx).Warn(logAction.EXCEPTION("project name cache write"), map[string]any{"error": err.Error()})
	}
}
