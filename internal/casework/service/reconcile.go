package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"go.uber.org/zap"
)

// Reconciliation is the outcome of Reconcile. Adopted is nil when the store
// and the ledger already agreed.
type Reconciliation struct {
	CaseID     string             `json:"case_id"`
	LedgerLen  int                `json:"ledger_len"`
	StoredRows int                `json:"stored_rows"`
	Adopted    *model.ProgressLog `json:"adopted,omitempty"`
}

// Reconcile repairs a case whose ledger holds exactly one entry the store
// has no row for. That happens when the ledger accepted an append but the
// local commit failed, or when a ledger call timed out after the entry was
// written. The entry is adopted as an orphan row: it claims the next log
// identifier, carries the on-chain hash and is excluded from the summary.
// An orphaned edit supersedes the version it was appended to, so the lawyer
// can restore the lost content by editing the orphan.
//
// Any other difference between ledger and store is reported as
// ErrLedgerDiverged and left for manual repair.
func (s *Coordinator) Reconcile(ctx context.Context, caseID, actor string) (*Reconciliation, error) {
	var out *Reconciliation
	err := s.write(ctx, "reconcile "+caseID, func(tx repository.Tx) error {
		c, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return storeErr("load case "+caseID, err)
		}
		if actor != c.LawyerID {
			return fmt.Errorf("reconcile %s as %s: only the lawyer may reconcile: %w", caseID, actor, ErrUnauthorized)
		}
		if c.LedgerID == "" || c.Status == model.StatusClosed {
			return fmt.Errorf("reconcile %s in status %s: %w", caseID, c.Status, ErrInvalidState)
		}
		logs, err := tx.ListLogs(ctx, caseID)
		if err != nil {
			return storeErr("list logs of "+caseID, err)
		}

		res := &Reconciliation{CaseID: caseID, StoredRows: len(logs)}
		var entry *ledger.Entry
		err = s.ledgerCall(ctx, func(ctx context.Context) error {
			n, err := s.ledger.Len(ctx, c.LedgerID)
			if err != nil {
				return err
			}
			res.LedgerLen = n
			if n != len(logs)+1 {
				return nil
			}
			entry, err = s.ledger.Entry(ctx, c.LedgerID, len(logs))
			return err
		})
		if err != nil {
			return ledgerErr("inspect ledger of", caseID, err)
		}
		switch {
		case res.LedgerLen == res.StoredRows:
			out = res
			return nil
		case entry == nil:
			return fmt.Errorf("reconcile %s: ledger has %d entries, store has %d rows: %w",
				caseID, res.LedgerLen, res.StoredRows, ErrLedgerDiverged)
		}

		seq, err := tx.ClaimSequence(ctx, ids.LogScope(caseID))
		if err != nil {
			return storeErr("allocate log id", err)
		}
		if seq-1 != entry.Index {
			return fmt.Errorf("reconcile %s: next log index %d, ledger entry %d: %w",
				caseID, seq-1, entry.Index, ErrLedgerDiverged)
		}

		now := s.clock()
		orphan := &model.ProgressLog{
			ID:          ids.LogID(caseID, seq),
			CaseID:      caseID,
			Seq:         seq,
			AuthorID:    actor,
			Timestamp:   now,
			Version:     entry.Version,
			ParentIndex: entry.ParentIndex,
			Hash:        entry.Hash.Hex(),
			Orphan:      true,
		}
		orphan.OriginID = orphan.ID

		if entry.ParentIndex != nil {
			head, err := rowAtIndex(logs, *entry.ParentIndex)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", caseID, err)
			}
			if head.Edited {
				return fmt.Errorf("reconcile %s: ledger edits %s, already superseded by %s: %w",
					caseID, head.ID, head.SupersededBy, ErrLedgerDiverged)
			}
			orphan.OriginID = head.OriginID
			if err := supersede(ctx, tx, c, head, orphan, actor, now); err != nil {
				return err
			}
		}

		if err := tx.CreateLog(ctx, orphan); err != nil {
			return storeErr("insert log "+orphan.ID, err)
		}
		c.UpdatedAt = now
		if err := tx.UpdateCase(ctx, c); err != nil {
			return storeErr("update case "+caseID, err)
		}
		res.Adopted = orphan
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Adopted == nil {
		s.logger.Info("ledger and store agree", zap.String("case_id", caseID), zap.Int("entries", out.LedgerLen))
		return out, nil
	}
	s.logger.Warn("orphaned ledger entry adopted",
		zap.String("case_id", caseID),
		zap.String("log_id", out.Adopted.ID),
		zap.Int("ledger_index", out.Adopted.LedgerIndex()),
		zap.Int("version", out.Adopted.Version),
		zap.String("actor_id", actor),
	)
	return out, nil
}

// rowAtIndex finds the row anchored at ledger index idx.
func rowAtIndex(logs []*model.ProgressLog, idx int) (*model.ProgressLog, error) {
	for _, l := range logs {
		if l.LedgerIndex() == idx {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no log row at ledger index %d: %w", idx, ErrLedgerDiverged)
}

// supersede snapshots head, points it at next and moves the case summary
// from head to next. Only current rows count towards the summary.
func supersede(ctx context.Context, tx repository.Tx, c *model.Case, head, next *model.ProgressLog, actor string, now time.Time) error {
	snapshot := &model.LogVersion{
		ID:                uuid.New(),
		LogID:             head.ID,
		OriginID:          head.OriginID,
		CaseID:            head.CaseID,
		Version:           head.Version,
		OldDescription:    head.Description,
		OldTimeSpent:      head.TimeSpent,
		OriginalTimestamp: head.Timestamp,
		EditedBy:          actor,
		EditedAt:          now,
		SupersededBy:      next.ID,
	}
	if err := tx.CreateLogVersion(ctx, snapshot); err != nil {
		return storeErr("snapshot log "+head.ID, err)
	}
	if err := tx.MarkLogSuperseded(ctx, head.ID, next.ID); err != nil {
		return storeErr("supersede log "+head.ID, err)
	}

	if head.Current() {
		c.TotalLogs--
		c.TotalTimeSpent -= head.TimeSpent
	}
	if next.Current() {
		c.TotalLogs++
		c.TotalTimeSpent += next.TimeSpent
	}
	return nil
}
