// Package service implements the case-work coordinator: identifier
// allocation, the ledger-first log writer, the case status machine, the
// verifier and the auditor access gate.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/caseledger/internal/canonical"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"go.uber.org/zap"
)

const (
	defaultLedgerTimeout = 10 * time.Second
	defaultMaxGrantTTL   = 720
	defaultMaxRetries    = 3
)

// Notifier tells an auditor they were granted access to a case.
// *notify.Dispatcher satisfies this interface.
type Notifier interface {
	NotifyGrant(ctx context.Context, c *model.Case, g *model.AuditGrant) error
}

// GrantCache caches the latest grant expiry per case and auditor.
// *grantcache.RedisCache satisfies this interface.
type GrantCache interface {
	Expiry(ctx context.Context, caseID, auditorID string) (time.Time, bool, error)
	Extend(ctx context.Context, caseID, auditorID string, expiresAt time.Time) error
}

// Archive stores verification reports. *archive.S3Archive and
// *archive.LocalArchive satisfy this interface.
type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Metrics receives coordinator events. The handler package provides a
// Prometheus implementation.
type Metrics interface {
	LedgerWrite(kind string, err error)
	Verification(verified bool)
	AllocationConflict()
	GrantCreated()
}

type noopMetrics struct{}

func (noopMetrics) LedgerWrite(string, error) {}
func (noopMetrics) Verification(bool)         {}
func (noopMetrics) AllocationConflict()       {}
func (noopMetrics) GrantCreated()             {}

// Coordinator owns every mutation of case state and every ledger call.
type Coordinator struct {
	store         repository.Store
	ledger        ledger.Ledger
	notifier      Notifier   // nil = no grant notifications
	grants        GrantCache // nil = always read grants from the store
	archive       Archive    // nil = reports cannot be archived
	metrics       Metrics
	now           func() time.Time
	ledgerTimeout time.Duration
	maxGrantTTL   int // hours
	maxRetries    int
	logger        *zap.Logger
}

// NewCoordinator creates a Coordinator over store and ledger.
func NewCoordinator(store repository.Store, l ledger.Ledger, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:         store,
		ledger:        l,
		metrics:       noopMetrics{},
		now:           time.Now,
		ledgerTimeout: defaultLedgerTimeout,
		maxGrantTTL:   defaultMaxGrantTTL,
		maxRetries:    defaultMaxRetries,
		logger:        logger,
	}
}

// SetNotifier configures grant notifications.
func (s *Coordinator) SetNotifier(n Notifier) { s.notifier = n }

// SetGrantCache configures the grant expiry cache consulted by CheckAccess.
func (s *Coordinator) SetGrantCache(c GrantCache) { s.grants = c }

// SetArchive configures where ArchiveReport stores reports.
func (s *Coordinator) SetArchive(a Archive) { s.archive = a }

// SetMetrics configures the metrics recorder.
func (s *Coordinator) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// SetClock replaces the time source. Used by tests.
func (s *Coordinator) SetClock(now func() time.Time) { s.now = now }

// SetLedgerTimeout bounds every ledger call. A call that exceeds it fails
// with ErrLedgerUnavailable.
func (s *Coordinator) SetLedgerTimeout(d time.Duration) {
	if d > 0 {
		s.ledgerTimeout = d
	}
}

// SetMaxGrantTTL sets the longest grant, in hours, GrantAccess accepts.
func (s *Coordinator) SetMaxGrantTTL(hours int) {
	if hours > 0 {
		s.maxGrantTTL = hours
	}
}

// SetMaxRetries sets how many times a transaction that lost a lock or
// serialization race is run again before ErrConflict is returned.
func (s *Coordinator) SetMaxRetries(n int) {
	if n >= 0 {
		s.maxRetries = n
	}
}

// clock returns the current time normalised to the canonical precision.
func (s *Coordinator) clock() time.Time {
	return canonical.Normalize(s.now())
}

// write runs fn in a transaction, retrying when the store reports a lost race.
func (s *Coordinator) write(ctx context.Context, op string, fn func(repository.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, repository.ErrRetryable) {
			return err
		}
		s.logger.Warn("transaction conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	s.metrics.AllocationConflict()
	return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
}

// read runs fn in a transaction without retries.
func (s *Coordinator) read(ctx context.Context, fn func(repository.Tx) error) error {
	return s.store.InTx(ctx, fn)
}

// ledgerCall runs fn with the ledger timeout applied.
func (s *Coordinator) ledgerCall(ctx context.Context, fn func(ctx context.Context) error) error {
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	return fn(lctx)
}

// anchor writes the digest of l to the case ledger at l's index. It refuses
// to write when the ledger length differs from the index the row expects.
func (s *Coordinator) anchor(ctx context.Context, c *model.Case, l *model.ProgressLog) error {
	want := l.LedgerIndex()
	kind := "append"
	if l.ParentIndex != nil {
		kind = "append_version"
	}

	return s.ledgerCall(ctx, func(ctx context.Context) error {
		n, err := s.ledger.Len(ctx, c.LedgerID)
		if err != nil {
			s.metrics.LedgerWrite(kind, err)
			return ledgerErr("read ledger length for", c.ID, err)
		}
		if n != want {
			s.logger.Error("ledger length does not match local sequence",
				zap.String("case_id", c.ID),
				zap.String("log_id", l.ID),
				zap.Int("ledger_len", n),
				zap.Int("expected", want),
			)
			return fmt.Errorf("record %s: ledger has %d entries, expected %d: %w", l.ID, n, want, ErrLedgerDiverged)
		}

		digest := l.ComputeHash()
		var idx int
		if l.ParentIndex == nil {
			idx, err = s.ledger.Append(ctx, c.LedgerID, digest)
		} else {
			idx, err = s.ledger.AppendVersion(ctx, c.LedgerID, *l.ParentIndex, digest)
		}
		s.metrics.LedgerWrite(kind, err)
		if err != nil {
			s.logger.Error("ledger write failed",
				zap.String("case_id", c.ID),
				zap.String("log_id", l.ID),
				zap.String("kind", kind),
				zap.Error(err),
			)
			return ledgerErr(kind+" for", l.ID, err)
		}
		if idx != want {
			s.logger.Error("ledger returned unexpected index",
				zap.String("log_id", l.ID), zap.Int("index", idx), zap.Int("expected", want))
			return fmt.Errorf("record %s: ledger index %d, expected %d: %w", l.ID, idx, want, ErrLedgerDiverged)
		}
		return nil
	})
}

// readableCase loads a case the requester may read: participants always,
// anyone else only with an active audit grant.
func (s *Coordinator) readableCase(ctx context.Context, tx repository.Tx, caseID, requester string) (*model.Case, error) {
	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("load case "+caseID, err)
	}
	if c.IsParticipant(requester) {
		return c, nil
	}
	ok, err := s.checkGrant(ctx, tx, caseID, requester, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("read case %s as %s: %w", caseID, requester, ErrUnauthorized)
	}
	return c, nil
}
