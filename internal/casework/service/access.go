package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"go.uber.org/zap"
)

// GrantAccess gives auditor read access to a case for ttlHours. Only the
// lawyer or the client of the case may grant access. Grants cannot be
// revoked; they lapse at their expiry.
func (s *Coordinator) GrantAccess(ctx context.Context, caseID, auditor, granter string, ttlHours int) (*model.AuditGrant, error) {
	if err := ids.ValidateParty(auditor); err != nil {
		return nil, &model.ErrValidation{Msg: "auditor: " + err.Error()}
	}
	if ttlHours <= 0 || ttlHours > s.maxGrantTTL {
		return nil, &model.ErrValidation{Msg: fmt.Sprintf("ttl_hours must be between 1 and %d", s.maxGrantTTL)}
	}

	var (
		grant *model.AuditGrant
		c     *model.Case
	)
	err := s.write(ctx, "grant access to "+caseID, func(tx repository.Tx) error {
		var err error
		c, err = tx.GetCase(ctx, caseID)
		if err != nil {
			return storeErr("load case "+caseID, err)
		}
		if !c.IsParticipant(granter) {
			return fmt.Errorf("grant access to %s as %s: %w", caseID, granter, ErrUnauthorized)
		}
		if c.IsParticipant(auditor) {
			return &model.ErrValidation{Msg: "auditor must not be a party to the case"}
		}
		now := s.clock()
		g := &model.AuditGrant{
			ID:        uuid.New(),
			CaseID:    caseID,
			AuditorID: auditor,
			GrantedBy: granter,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Duration(ttlHours) * time.Hour),
		}
		if err := tx.CreateGrant(ctx, g); err != nil {
			return storeErr("create grant", err)
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.GrantCreated()
	s.logger.Info("audit access granted",
		zap.String("case_id", caseID),
		zap.String("auditor_id", auditor),
		zap.String("granted_by", granter),
		zap.Time("expires_at", grant.ExpiresAt),
	)

	if s.grants != nil {
		if err := s.grants.Extend(ctx, caseID, auditor, grant.ExpiresAt); err != nil {
			s.logger.Warn("grant cache update failed", zap.String("case_id", caseID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyGrant(ctx, c, grant); err != nil {
			s.logger.Warn("grant notification failed",
				zap.String("case_id", caseID),
				zap.String("auditor_id", auditor),
				zap.Error(err),
			)
		}
	}
	return grant, nil
}

// CheckAccess reports whether requester holds a grant on the case that is
// active at now. The grant is inactive from its expiry instant onward.
func (s *Coordinator) CheckAccess(ctx context.Context, caseID, requester string, now time.Time) (bool, error) {
	var ok bool
	err := s.read(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetCase(ctx, caseID); err != nil {
			return storeErr("load case "+caseID, err)
		}
		var err error
		ok, err = s.checkGrant(ctx, tx, caseID, requester, now)
		return err
	})
	return ok, err
}

// checkGrant consults the grant cache first and falls back to the store.
// A cache hit can only confirm access; misses, stale entries and cache
// errors all fall through to the store.
func (s *Coordinator) checkGrant(ctx context.Context, tx repository.Tx, caseID, requester string, now time.Time) (bool, error) {
	if requester == "" {
		return false, nil
	}
	if s.grants != nil {
		exp, hit, err := s.grants.Expiry(ctx, caseID, requester)
		switch {
		case err != nil:
			s.logger.Warn("grant cache read failed", zap.String("case_id", caseID), zap.Error(err))
		case hit && now.Before(exp):
			return true, nil
		}
	}

	g, err := tx.ActiveGrant(ctx, caseID, requester, now)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("look up grant", err)
	}
	if s.grants != nil {
		if err := s.grants.Extend(ctx, caseID, requester, g.ExpiresAt); err != nil {
			s.logger.Warn("grant cache update failed", zap.String("case_id", caseID), zap.Error(err))
		}
	}
	return g.ActiveAt(now), nil
}

// ListGrants returns every grant issued on a case. Participants only.
func (s *Coordinator) ListGrants(ctx context.Context, caseID, requester string) ([]*model.AuditGrant, error) {
	var out []*model.AuditGrant
	err := s.read(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return storeErr("load case "+caseID, err)
		}
		if !c.IsParticipant(requester) {
			return fmt.Errorf("list grants of %s as %s: %w", caseID, requester, ErrUnauthorized)
		}
		out, err = tx.ListGrants(ctx, caseID)
		if err != nil {
			return storeErr("list grants of "+caseID, err)
		}
		return nil
	})
	return out, err
}
