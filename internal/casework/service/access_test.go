package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGrantCache struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	extends int
	failGet bool
}

func newMemGrantCache() *memGrantCache {
	return &memGrantCache{expiry: make(map[string]time.Time)}
}

func (c *memGrantCache) Expiry(_ context.Context, caseID, auditorID string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return time.Time{}, false, errors.New("cache down")
	}
	exp, ok := c.expiry[caseID+"/"+auditorID]
	return exp, ok, nil
}

func (c *memGrantCache) Extend(_ context.Context, caseID, auditorID string, exp time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extends++
	key := caseID + "/" + auditorID
	if exp.After(c.expiry[key]) {
		c.expiry[key] = exp
	}
	return nil
}

type recordingNotifier struct {
	grants []*model.AuditGrant
	err    error
}

func (n *recordingNotifier) NotifyGrant(_ context.Context, _ *model.Case, g *model.AuditGrant) error {
	n.grants = append(n.grants, g)
	return n.err
}

type memArchive struct {
	objects map[string][]byte
}

func (a *memArchive) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = body
	return "mem://" + key, nil
}

func TestGrantAccess_Validation(t *testing.T) {
	f := newFixture(t)
	caseID := f.activeCase(t)
	ctx := context.Background()
	f.svc.SetMaxGrantTTL(48)

	var valErr *model.ErrValidation
	_, err := f.svc.GrantAccess(ctx, caseID, auditor, client, 0)
	assert.True(t, errors.As(err, &valErr))
	_, err = f.svc.GrantAccess(ctx, caseID, auditor, client, 49)
	assert.True(t, errors.As(err, &valErr))
	_, err = f.svc.GrantAccess(ctx, caseID, lawyer, client, 1)
	assert.True(t, errors.As(err, &valErr), "a party cannot be its own auditor")

	_, err = f.svc.GrantAccess(ctx, caseID, auditor, "stranger", 1)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	_, err = f.svc.GrantAccess(ctx, "C-1-2-01", auditor, client, 1)
	assert.ErrorIs(t, err, service.ErrNotFound)

	g, err := f.svc.GrantAccess(ctx, caseID, auditor, client, 48)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, g.ExpiresAt.Sub(g.CreatedAt))
	assert.Equal(t, client, g.GrantedBy)
}

func TestCheckAccess_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	caseID := f.activeCase(t)
	ctx := context.Background()

	g, err := f.svc.GrantAccess(ctx, caseID, auditor, lawyer, 2)
	require.NoError(t, err)

	ok, err := f.svc.CheckAccess(ctx, caseID, auditor, g.ExpiresAt.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CheckAccess(ctx, caseID, auditor, g.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, ok, "access ends at the expiry instant")

	ok, err = f.svc.CheckAccess(ctx, caseID, "aud_2", g.CreatedAt)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.CheckAccess(ctx, "C-1-2-01", auditor, g.CreatedAt)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestAuditorReadAccess(t *testing.T) {
	f := newFixture(t)
	caseID := f.activeCase(t)
	ctx := context.Background()

	l, err := f.svc.RecordNewLog(ctx, caseID, lawyer, "Review", 30)
	require.NoError(t, err)

	_, err = f.svc.VerifyCase(ctx, caseID, auditor)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	_, err = f.svc.VerifyLog(ctx, caseID, l.ID, auditor)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = f.svc.GrantAccess(ctx, caseID, auditor, client, 1)
	require.NoError(t, err)

	report, err := f.svc.VerifyCase(ctx, caseID, auditor)
	require.NoError(t, err)
	assert.True(t, report.Verified)

	_, err = f.svc.ListGrants(ctx, caseID, auditor)
	assert.ErrorIs(t, err, service.ErrUnauthorized, "auditors cannot list grants")

	grants, err := f.svc.ListGrants(ctx, caseID, lawyer)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	// Auditors are read-only.
	_, err = f.svc.RecordNewLog(ctx, caseID, auditor, "x", 1)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestGrantCacheAndNotifier(t *testing.T) {
	f := newFixture(t)
	caseID := f.activeCase(t)
	ctx := context.Background()

	cache := newMemGrantCache()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	f.svc.SetGrantCache(cache)
	f.svc.SetNotifier(notifier)

	g, err := f.svc.GrantAccess(ctx, caseID, auditor, client, 3)
	require.NoError(t, err, "notification failures do not fail the grant")
	require.Len(t, notifier.grants, 1)
	assert.Equal(t, 1, cache.extends)

	ok, err := f.svc.CheckAccess(ctx, caseID, auditor, g.CreatedAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, cache.extends, "a cache hit does not touch the store")

	ok, err = f.svc.CheckAccess(ctx, caseID, auditor, g.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, ok)

	cache.failGet = true
	ok, err = f.svc.CheckAccess(ctx, caseID, auditor, g.CreatedAt)
	require.NoError(t, err)
	assert.True(t, ok, "cache errors fall through to the store")
}

func TestArchiveReport(t *testing.T) {
	f := newFixture(t)
	caseID := f.activeCase(t)
	ctx := context.Background()

	_, err := f.svc.ArchiveReport(ctx, caseID, lawyer)
	assert.ErrorIs(t, err, service.ErrInvalidState)

	archive := &memArchive{}
	f.svc.SetArchive(archive)
	_, err = f.svc.RecordNewLog(ctx, caseID, lawyer, "Hearing prep", 60)
	require.NoError(t, err)

	loc, err := f.svc.ArchiveReport(ctx, caseID, client)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, "mem://reports/"+caseID+"/"))

	require.Len(t, archive.objects, 1)
	for _, body := range archive.objects {
		var report service.CaseVerification
		require.NoError(t, json.Unmarshal(body, &report))
		assert.Equal(t, caseID, report.CaseID)
		assert.True(t, report.Verified)
		assert.Equal(t, 1, report.Logs)
	}
}
