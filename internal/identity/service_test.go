package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sing3demons/instance-identity/internal/database"
	"github.com/stretchr/testify/require"
)

type capturedIssue struct {
	subject string
	claims  map[string]any
}

type fakeIssuer struct {
	mu    sync.Mutex
	calls []capturedIssue
	err   error
	exp   time.Time
}

func (f *fakeIssuer) IssueToken(_ context.Context, subject string, claims map[string]any) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	f.calls = append(f.calls, capturedIssue{subject: subject, claims: claims})
	return "signed." + subject, f.exp, nil
}

type fakeDirectory struct {
	names map[string]string
	err   error
	calls int
}

func (f *fakeDirectory) ProjectName(_ context.Context, projectID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.names[projectID], nil
}

type lookupCounter struct {
	bySource map[string]int
	failures int
}

func (l *lookupCounter) DirectoryLookup(source string, err error) {
	if l.bySource == nil {
		l.bySource = map[string]int{}
	}
	l.bySource[source]++
	if err != nil {
		l.failures++
	}
}

func sampleRequest() VendordataRequest {
	return VendordataRequest{
		InstanceID: "vm-123",
		ProjectID:  "p1",
		ImageID:    "img-1",
		Hostname:   "vm-123.example",
		Metadata:   map[string]any{"assume-role": "deployer", "tier": "web"},
	}
}

func TestIssueInstanceToken_Claims(t *testing.T) {
	issuer := &fakeIssuer{exp: time.Unix(1714568400, 0)}
	svc := NewIdentityService(issuer)

	token, exp, err := svc.IssueInstanceToken(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "signed.vm-123", token)
	require.Equal(t, issuer.exp, exp)

	require.Len(t, issuer.calls, 1)
	got := issuer.calls[0]
	require.Equal(t, "vm-123", got.subject)
	require.Equal(t, map[string]any{
		"instance-id": "vm-123",
		"project-id":  "p1",
		"image-id":    "img-1",
		"hostname":    "vm-123.example",
		"metadata":    map[string]any{"assume-role": "deployer", "tier": "web"},
		"assume-role": "deployer",
	}, got.claims)
}

func TestIssueInstanceToken_NoAssumeRole(t *testing.T) {
	issuer := &fakeIssuer{}
	req := sampleRequest()
	req.Metadata = map[string]any{}

	_, _, err := NewIdentityService(issuer).IssueInstanceToken(context.Background(), req)
	require.NoError(t, err)
	require.NotContains(t, issuer.calls[0].claims, ClaimAssumeRole)
	require.NotContains(t, issuer.calls[0].claims, ClaimProjectName)
}

func TestIssueInstanceToken_ProjectNameCached(t *testing.T) {
	issuer := &fakeIssuer{}
	dir := &fakeDirectory{names: map[string]string{"p1": "web-prod"}}
	lookups := &lookupCounter{}
	svc := NewIdentityService(issuer,
		WithProjectNames(dir, NewMemoryCache(time.Minute)),
		WithLookupRecorder(lookups))

	for i := 0; i < 3; i++ {
		_, _, err := svc.IssueInstanceToken(context.Background(), sampleRequest())
		require.NoError(t, err)
	}
	require.Equal(t, 1, dir.calls)
	require.Equal(t, "web-prod", issuer.calls[2].claims[ClaimProjectName])
	require.Equal(t, map[string]int{"keystone": 1, "cache": 2}, lookups.bySource)
}

func TestIssueInstanceToken_DirectoryDown(t *testing.T) {
	issuer := &fakeIssuer{}
	lookups := &lookupCounter{}
	svc := NewIdentityService(issuer,
		WithProjectNames(&fakeDirectory{err: errors.New("connection refused")}, nil),
		WithLookupRecorder(lookups))

	_, _, err := svc.IssueInstanceToken(context.Background(), sampleRequest())
	require.ErrorIs(t, err, ErrDirectoryUnavailable)
	require.Empty(t, issuer.calls)
	require.Equal(t, 1, lookups.failures)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := NewRedisCache(database.NewRedisClient(rdb), time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "p1")
	require.False(t, ok)

	cache.Set(ctx, "p1", "web-prod")
	name, ok := cache.Get(ctx, "p1")
	require.True(t, ok)
	require.Equal(t, "web-prod", name)
	require.Equal(t, time.Minute, mr.TTL(projectKeyPrefix+"p1"))

	mr.FastForward(time.Minute)
	_, ok = cache.Get(ctx, "p1")
	require.False(t, ok)

	// an unreachable redis degrades to a miss
	mr.Close()
	_, ok = cache.Get(ctx, "p2")
	require.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "p1")
	require.False(t, ok)
	cache.Set(ctx, "p1", "web-prod")
	name, ok := cache.Get(ctx, "p1")
	require.True(t, ok)
	require.Equal(t, "web-prod", name)
}
