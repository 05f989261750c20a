package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"go.uber.org/zap"
)

// LogHistory is the full lineage of a log: every version row, oldest first,
// and the snapshots taken at each edit.
type LogHistory struct {
	OriginID  string               `json:"origin_id"`
	HeadID    string               `json:"head_id"`
	Versions  []*model.ProgressLog `json:"versions"`
	Snapshots []*model.LogVersion  `json:"snapshots"`
}

func validateLogInput(description string, timeSpent int) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", &model.ErrValidation{Msg: "description is required"}
	}
	if timeSpent < 0 {
		return "", &model.ErrValidation{Msg: "time_spent must not be negative"}
	}
	return description, nil
}

// lockWritableCase loads and locks a case the lawyer may record work on.
func lockWritableCase(ctx context.Context, tx repository.Tx, caseID, actor string) (*model.Case, error) {
	c, err := tx.LockCase(ctx, caseID)
	if err != nil {
		return nil, storeErr("load case "+caseID, err)
	}
	if actor != c.LawyerID {
		return nil, fmt.Errorf("record work on %s as %s: only the lawyer may record logs: %w", caseID, actor, ErrUnauthorized)
	}
	if !c.Status.AcceptsLogs() {
		return nil, fmt.Errorf("record work on %s in status %s: %w", caseID, c.Status, ErrInvalidState)
	}
	return c, nil
}

// RecordNewLog allocates the next log identifier of the case, anchors the
// log digest in the case ledger and, only when the ledger confirms, commits
// the log and the updated case summary.
func (s *Coordinator) RecordNewLog(ctx context.Context, caseID, author, description string, timeSpent int) (*model.ProgressLog, error) {
	description, err := validateLogInput(description, timeSpent)
	if err != nil {
		return nil, err
	}

	var recorded *model.ProgressLog
	err = s.write(ctx, "record log for "+caseID, func(tx repository.Tx) error {
		c, err := lockWritableCase(ctx, tx, caseID, author)
		if err != nil {
			return err
		}
		seq, err := tx.ClaimSequence(ctx, ids.LogScope(caseID))
		if err != nil {
			return storeErr("allocate log id", err)
		}

		l := &model.ProgressLog{
			ID:          ids.LogID(caseID, seq),
			CaseID:      caseID,
			Seq:         seq,
			AuthorID:    author,
			Description: description,
			TimeSpent:   timeSpent,
			Timestamp:   s.clock(),
			Version:     1,
		}
		l.OriginID = l.ID
		l.Hash = l.ComputeHash().Hex()

		if err := tx.CreateLog(ctx, l); err != nil {
			return storeErr("insert log "+l.ID, err)
		}
		c.TotalLogs++
		c.TotalTimeSpent += timeSpent
		c.UpdatedAt = l.Timestamp
		if err := tx.UpdateCase(ctx, c); err != nil {
			return storeErr("update case "+caseID, err)
		}
		if err := s.anchor(ctx, c, l); err != nil {
			return err
		}
		recorded = l
		return nil
	})
	if err != nil {
		if recorded != nil {
			s.logger.Error("log anchored but local commit failed",
				zap.String("log_id", recorded.ID),
				zap.Int("ledger_index", recorded.LedgerIndex()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.logger.Info("log recorded",
		zap.String("case_id", caseID),
		zap.String("log_id", recorded.ID),
		zap.Int("ledger_index", recorded.LedgerIndex()),
		zap.Int("version", recorded.Version),
	)
	return recorded, nil
}

// RecordEdit supersedes the current version of a log with new content. The
// pre-edit state is snapshotted, the new version is written as a successor
// row anchored with the superseded row's ledger index as parent, and the case
// summary is adjusted. Editing an orphan row restores its content. It returns
// the successor row.
func (s *Coordinator) RecordEdit(ctx context.Context, logID, editor, description string, timeSpent int) (*model.ProgressLog, error) {
	description, err := validateLogInput(description, timeSpent)
	if err != nil {
		return nil, err
	}
	ref, err := ids.ParseLogID(logID)
	if err != nil {
		return nil, &model.ErrValidation{Msg: err.Error()}
	}

	var successor *model.ProgressLog
	err = s.write(ctx, "edit log "+logID, func(tx repository.Tx) error {
		c, err := lockWritableCase(ctx, tx, ref.CaseID, editor)
		if err != nil {
			return err
		}
		head, err := tx.GetLog(ctx, logID)
		if err != nil {
			return storeErr("load log "+logID, err)
		}
		if head.Edited {
			return fmt.Errorf("edit log %s: superseded by %s, edit the current version: %w", logID, head.SupersededBy, ErrConflict)
		}

		seq, err := tx.ClaimSequence(ctx, ids.LogScope(ref.CaseID))
		if err != nil {
			return storeErr("allocate log id", err)
		}
		now := s.clock()
		parent := head.LedgerIndex()
		next := &model.ProgressLog{
			ID:          ids.LogID(ref.CaseID, seq),
			CaseID:      ref.CaseID,
			Seq:         seq,
			AuthorID:    editor,
			Description: description,
			TimeSpent:   timeSpent,
			Timestamp:   now,
			Version:     head.Version + 1,
			ParentIndex: &parent,
			OriginID:    head.OriginID,
		}
		next.Hash = next.ComputeHash().Hex()

		if err := tx.CreateLog(ctx, next); err != nil {
			return storeErr("insert log "+next.ID, err)
		}
		if err := supersede(ctx, tx, c, head, next, editor, now); err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := tx.UpdateCase(ctx, c); err != nil {
			return storeErr("update case "+c.ID, err)
		}
		if err := s.anchor(ctx, c, next); err != nil {
			return err
		}
		successor = next
		return nil
	})
	if err != nil {
		if successor != nil {
			s.logger.Error("edit anchored but local commit failed",
				zap.String("log_id", successor.ID),
				zap.Int("ledger_index", successor.LedgerIndex()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.logger.Info("log edited",
		zap.String("case_id", successor.CaseID),
		zap.String("log_id", successor.ID),
		zap.String("supersedes", logID),
		zap.Int("ledger_index", successor.LedgerIndex()),
		zap.Int("parent_index", *successor.ParentIndex),
		zap.Int("version", successor.Version),
	)
	return successor, nil
}

// ListLogs returns the logs of a case in timestamp order. Superseded versions
// and orphan rows are included only when includeSuperseded is set.
func (s *Coordinator) ListLogs(ctx context.Context, caseID, requester string, includeSuperseded bool) ([]*model.ProgressLog, error) {
	var out []*model.ProgressLog
	err := s.read(ctx, func(tx repository.Tx) error {
		if _, err := s.readableCase(ctx, tx, caseID, requester); err != nil {
			return err
		}
		logs, err := tx.ListLogs(ctx, caseID)
		if err != nil {
			return storeErr("list logs of "+caseID, err)
		}
		for _, l := range logs {
			if includeSuperseded || l.Current() {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

// LogHistory returns the lineage logID belongs to.
func (s *Coordinator) LogHistory(ctx context.Context, logID, requester string) (*LogHistory, error) {
	ref, err := ids.ParseLogID(logID)
	if err != nil {
		return nil, &model.ErrValidation{Msg: err.Error()}
	}

	var h *LogHistory
	err = s.read(ctx, func(tx repository.Tx) error {
		if _, err := s.readableCase(ctx, tx, ref.CaseID, requester); err != nil {
			return err
		}
		l, err := tx.GetLog(ctx, logID)
		if err != nil {
			return storeErr("load log "+logID, err)
		}
		logs, err := tx.ListLogs(ctx, ref.CaseID)
		if err != nil {
			return storeErr("list logs of "+ref.CaseID, err)
		}
		h = &LogHistory{OriginID: l.OriginID}
		for _, row := range logs {
			if row.OriginID != l.OriginID {
				continue
			}
			h.Versions = append(h.Versions, row)
			if !row.Edited {
				h.HeadID = row.ID
			}
		}
		sort.SliceStable(h.Versions, func(i, j int) bool { return h.Versions[i].Version < h.Versions[j].Version })
		h.Snapshots, err = tx.ListLogVersions(ctx, l.OriginID)
		if err != nil {
			return storeErr("list versions of "+l.OriginID, err)
		}
		return nil
	})
	return h, err
}
