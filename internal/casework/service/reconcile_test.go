package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jmerrifield20/caseledger/internal/canonical"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errLostCommit = errors.New("commit tx: connection reset by peer")

// lostCommitStore runs fn normally but reports a failed commit for the next
// fails transactions, discarding their writes.
type lostCommitStore struct {
	repository.Store
	mu    sync.Mutex
	fails int
}

func (s *lostCommitStore) failNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = 1
}

func (s *lostCommitStore) InTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fails > 0 {
			s.fails--
			return errLostCommit
		}
		return nil
	})
}

// lostResponseLedger writes appends through but reports the next one as
// unavailable, like a remote call that timed out after the server committed.
type lostResponseLedger struct {
	ledger.Ledger
	lose bool
}

func (l *lostResponseLedger) Append(ctx context.Context, id string, h canonical.Digest) (int, error) {
	idx, err := l.Ledger.Append(ctx, id, h)
	if err == nil && l.lose {
		l.lose = false
		return 0, fmt.Errorf("append: %w", ledger.ErrUnavailable)
	}
	return idx, err
}

type reconcileFixture struct {
	svc    *service.Coordinator
	mem    *ledger.MemoryLedger
	store  *lostCommitStore
	lossy  *lostResponseLedger
	caseID string
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	mem := ledger.NewMemoryLedger()
	lossy := &lostResponseLedger{Ledger: mem}
	store := &lostCommitStore{Store: repository.NewMemoryStore()}
	svc := service.NewCoordinator(store, lossy, zap.NewNop())
	svc.SetClock(newStepClock().Now)

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, lawyer, client, "Tenancy dispute")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, c.ID, client, model.TransitionRequest{Status: model.StatusActive})
	require.NoError(t, err)
	return &reconcileFixture{svc: svc, mem: mem, store: store, lossy: lossy, caseID: c.ID}
}

func TestReconcile_AdoptsAppendAfterLostCommit(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	first, err := f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Reviewed lease", 90)
	require.NoError(t, err)

	f.store.failNext()
	_, err = f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Called landlord", 30)
	require.ErrorIs(t, err, errLostCommit)

	for i := 0; i < 2; i++ {
		_, err = f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Drafted letter", 15)
		require.ErrorIs(t, err, service.ErrLedgerDiverged)
	}

	_, err = f.svc.Reconcile(ctx, f.caseID, client)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	rec, err := f.svc.Reconcile(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.LedgerLen)
	assert.Equal(t, 1, rec.StoredRows)
	require.NotNil(t, rec.Adopted)
	orphan := rec.Adopted
	assert.Equal(t, "L-C-7-12-01-02", orphan.ID)
	assert.True(t, orphan.Orphan)
	assert.Equal(t, 1, orphan.Version)
	assert.Nil(t, orphan.ParentIndex)
	assert.Empty(t, orphan.Description)

	c, err := f.svc.GetCase(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	entry, err := f.mem.Entry(ctx, c.LedgerID, 1)
	require.NoError(t, err)
	assert.Equal(t, entry.Hash.Hex(), orphan.Hash)

	again, err := f.svc.Reconcile(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.Nil(t, again.Adopted)
	assert.Equal(t, 2, again.LedgerLen)
	assert.Equal(t, 2, again.StoredRows)

	next, err := f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Drafted letter", 15)
	require.NoError(t, err)
	assert.Equal(t, "L-C-7-12-01-03", next.ID)

	sum, err := f.svc.Summary(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalLogs)
	assert.Equal(t, 105, sum.TotalTimeSpent)

	current, err := f.svc.ListLogs(ctx, f.caseID, lawyer, false)
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, []string{first.ID, next.ID}, []string{current[0].ID, current[1].ID})
	all, err := f.svc.ListLogs(ctx, f.caseID, lawyer, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	report, err := f.svc.VerifyCase(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.True(t, report.ChainIntact)
	assert.True(t, report.SummaryConsistent)
	assert.Zero(t, report.Mismatch)
	assert.Equal(t, []string{orphan.ID}, report.Orphans)

	v, err := f.svc.VerifyLog(ctx, f.caseID, orphan.ID, lawyer)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.True(t, v.Orphan)
	assert.NotEmpty(t, v.Problem)

	// Editing the orphan restores its content and brings it back into the summary.
	restored, err := f.svc.RecordEdit(ctx, orphan.ID, lawyer, "Called landlord", 30)
	require.NoError(t, err)
	assert.Equal(t, "L-C-7-12-01-04", restored.ID)
	assert.Equal(t, 2, restored.Version)
	require.NotNil(t, restored.ParentIndex)
	assert.Equal(t, 1, *restored.ParentIndex)

	report, err = f.svc.VerifyCase(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 3, report.ComputedSummary.TotalLogs)
	assert.Equal(t, 135, report.ComputedSummary.TotalTimeSpent)
}

func TestReconcile_AdoptsEditAfterLostCommit(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	orig, err := f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Reviewed lease", 90)
	require.NoError(t, err)

	f.store.failNext()
	_, err = f.svc.RecordEdit(ctx, orig.ID, lawyer, "Reviewed lease and deposit terms", 120)
	require.ErrorIs(t, err, errLostCommit)

	rec, err := f.svc.Reconcile(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	require.NotNil(t, rec.Adopted)
	orphan := rec.Adopted
	assert.Equal(t, 2, orphan.Version)
	require.NotNil(t, orphan.ParentIndex)
	assert.Equal(t, 0, *orphan.ParentIndex)
	assert.Equal(t, orig.ID, orphan.OriginID)

	sum, err := f.svc.Summary(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalLogs)
	assert.Zero(t, sum.TotalTimeSpent)

	h, err := f.svc.LogHistory(ctx, orig.ID, lawyer)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, h.HeadID)
	require.Len(t, h.Snapshots, 1)
	assert.Equal(t, "Reviewed lease", h.Snapshots[0].OldDescription)

	_, err = f.svc.RecordEdit(ctx, orig.ID, lawyer, "Stale edit", 1)
	assert.ErrorIs(t, err, service.ErrConflict)

	restored, err := f.svc.RecordEdit(ctx, orphan.ID, lawyer, "Reviewed lease and deposit terms", 120)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Version)

	report, err := f.svc.VerifyCase(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, orig.ID, report.Groups[0].Key)
	assert.Len(t, report.Groups[0].Edits, 2)
	assert.Equal(t, 1, report.ComputedSummary.TotalLogs)
	assert.Equal(t, 120, report.ComputedSummary.TotalTimeSpent)
}

func TestReconcile_AdoptsAppendAfterLostLedgerResponse(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	f.lossy.lose = true
	_, err := f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Reviewed lease", 90)
	require.ErrorIs(t, err, service.ErrLedgerUnavailable)

	_, err = f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Reviewed lease", 90)
	require.ErrorIs(t, err, service.ErrLedgerDiverged)

	rec, err := f.svc.Reconcile(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	require.NotNil(t, rec.Adopted)
	assert.Equal(t, "L-C-7-12-01-01", rec.Adopted.ID)

	l, err := f.svc.RecordNewLog(ctx, f.caseID, lawyer, "Reviewed lease", 90)
	require.NoError(t, err)
	assert.Equal(t, "L-C-7-12-01-02", l.ID)
}

func TestReconcile_RefusesWiderGap(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	c, err := f.svc.GetCase(ctx, f.caseID, lawyer)
	require.NoError(t, err)
	for _, s := range []string{"a", "b"} {
		_, err := f.mem.Append(ctx, c.LedgerID, canonical.Sum([]byte(s)))
		require.NoError(t, err)
	}

	_, err = f.svc.Reconcile(ctx, f.caseID, lawyer)
	assert.ErrorIs(t, err, service.ErrLedgerDiverged)

	logs, err := f.svc.ListLogs(ctx, f.caseID, lawyer, true)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestReconcile_PendingCaseHasNoLedger(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateCase(ctx, lawyer, client, "Second matter")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, c.ID, lawyer)
	assert.ErrorIs(t, err, service.ErrInvalidState)
}
