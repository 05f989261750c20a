package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"go.uber.org/zap"
)

// LogVerification compares one stored log row against its ledger entry.
// A mismatch is reported, never returned as an error; both hashes are kept
// so the cause can be investigated by hand.
type LogVerification struct {
	LogID          string `json:"log_id"`
	LedgerIndex    int    `json:"ledger_index"`
	Verified       bool   `json:"verified"`
	RecomputedHash string `json:"recomputed_hash"`
	OnChainHash    string `json:"on_chain_hash"`
	Version        int    `json:"version"`
	ParentIndex    *int   `json:"parent_index,omitempty"`
	Superseded     bool   `json:"superseded"`
	Orphan         bool   `json:"orphan,omitempty"`
	Problem        string `json:"problem,omitempty"`
}

// VersionGroup collects the versions of one log. A provisional group has no
// original: its first version's parent was not seen before it.
type VersionGroup struct {
	Key         string             `json:"key"`
	Provisional bool               `json:"provisional"`
	Original    *LogVerification   `json:"original"`
	Edits       []*LogVerification `json:"edits"`
}

// CaseVerification is the verification report of a whole case.
type CaseVerification struct {
	CaseID    string          `json:"case_id"`
	LedgerID  string          `json:"ledger_id"`
	Status    model.Status    `json:"status"`
	CheckedAt time.Time       `json:"checked_at"`
	Verified  bool            `json:"verified"`
	Logs      int             `json:"logs"`
	Mismatch  int             `json:"mismatches"`
	Groups    []*VersionGroup `json:"groups"`
	Orphans   []string        `json:"orphans,omitempty"`

	ChainIntact bool   `json:"chain_intact"`
	ChainError  string `json:"chain_error,omitempty"`

	SummaryConsistent bool              `json:"summary_consistent"`
	StoredSummary     model.CaseSummary `json:"stored_summary"`
	ComputedSummary   model.CaseSummary `json:"computed_summary"`

	Finalized           bool   `json:"finalized"`
	FinalHash           string `json:"final_hash,omitempty"`
	LedgerFinalHash     string `json:"ledger_final_hash,omitempty"`
	RecomputedFinalHash string `json:"recomputed_final_hash,omitempty"`
	FinalHashMatches    bool   `json:"final_hash_matches"`
}

// VerifyLog recomputes the digest of a log from its stored fields and
// compares it with the ledger entry at the log's index.
func (s *Coordinator) VerifyLog(ctx context.Context, caseID, logID, requester string) (*LogVerification, error) {
	ref, err := ids.ParseLogID(logID)
	if err != nil {
		return nil, &model.ErrValidation{Msg: err.Error()}
	}
	if ref.CaseID != caseID {
		return nil, fmt.Errorf("log %s does not belong to case %s: %w", logID, caseID, ErrNotFound)
	}

	var (
		c *model.Case
		l *model.ProgressLog
	)
	err = s.read(ctx, func(tx repository.Tx) error {
		var err error
		if c, err = s.readableCase(ctx, tx, caseID, requester); err != nil {
			return err
		}
		if l, err = tx.GetLog(ctx, logID); err != nil {
			return storeErr("load log "+logID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v, err := s.verifyRow(ctx, c, l)
	if err != nil {
		return nil, err
	}
	s.metrics.Verification(v.Verified)
	if !v.Verified {
		s.logger.Warn("log verification mismatch",
			zap.String("log_id", logID),
			zap.String("recomputed", v.RecomputedHash),
			zap.String("on_chain", v.OnChainHash),
		)
	}
	return v, nil
}

// verifyRow checks one row. A missing ledger entry is a mismatch; an
// unreachable ledger is an error. An orphan row verifies when its adopted
// hash still matches the ledger.
func (s *Coordinator) verifyRow(ctx context.Context, c *model.Case, l *model.ProgressLog) (*LogVerification, error) {
	v := &LogVerification{
		LogID:          l.ID,
		LedgerIndex:    l.LedgerIndex(),
		RecomputedHash: l.ComputeHash().Hex(),
		Version:        l.Version,
		ParentIndex:    l.ParentIndex,
		Superseded:     l.Edited,
		Orphan:         l.Orphan,
	}
	if l.Orphan {
		// Content was never stored; only the adopted hash can be compared.
		v.RecomputedHash = l.Hash
		v.Problem = "orphaned ledger entry, content lost"
	}
	if c.LedgerID == "" {
		v.Problem = "case has no ledger"
		return v, nil
	}

	var entry *ledger.Entry
	err := s.ledgerCall(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.ledger.Entry(ctx, c.LedgerID, v.LedgerIndex)
		return err
	})
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		v.Problem = "no ledger entry at index"
		return v, nil
	case err != nil:
		return nil, ledgerErr("read ledger entry for", l.ID, err)
	}

	v.OnChainHash = entry.Hash.Hex()
	v.Version = entry.Version
	v.ParentIndex = entry.ParentIndex
	v.Verified = v.OnChainHash == v.RecomputedHash
	return v, nil
}

// VerifyCase verifies every row of a case in timestamp order and groups the
// results by lineage. It also checks the ledger's own chain, the stored case
// summary and, for a closed case, the final aggregate.
func (s *Coordinator) VerifyCase(ctx context.Context, caseID, requester string) (*CaseVerification, error) {
	var (
		c    *model.Case
		logs []*model.ProgressLog
	)
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		if c, err = s.readableCase(ctx, tx, caseID, requester); err != nil {
			return err
		}
		if logs, err = tx.ListLogs(ctx, caseID); err != nil {
			return storeErr("list logs of "+caseID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &CaseVerification{
		CaseID:        c.ID,
		LedgerID:      c.LedgerID,
		Status:        c.Status,
		CheckedAt:     s.clock(),
		Logs:          len(logs),
		StoredSummary: c.Summary(),
		ChainIntact:   true,
	}

	results := make([]*LogVerification, 0, len(logs))
	for _, l := range logs {
		v, err := s.verifyRow(ctx, c, l)
		if err != nil {
			return nil, err
		}
		if !v.Verified {
			report.Mismatch++
		}
		if l.Orphan {
			report.Orphans = append(report.Orphans, l.ID)
		}
		results = append(results, v)
	}
	report.Groups = groupVersions(logs, results)

	computed := model.CaseSummary{CaseID: c.ID, Status: c.Status, StatusLabel: c.StatusLabel}
	for _, l := range logs {
		if l.Current() {
			computed.TotalLogs++
			computed.TotalTimeSpent += l.TimeSpent
		}
	}
	report.ComputedSummary = computed
	report.SummaryConsistent = computed == report.StoredSummary

	if c.LedgerID != "" {
		if err := s.checkLedger(ctx, c, logs, report); err != nil {
			return nil, err
		}
	}

	finalOK := report.FinalHashMatches || (!report.Finalized && c.Status != model.StatusClosed)
	report.Verified = report.Mismatch == 0 && report.ChainIntact && report.SummaryConsistent && finalOK
	s.metrics.Verification(report.Verified)

	fields := []zap.Field{
		zap.String("case_id", caseID),
		zap.Int("logs", report.Logs),
		zap.Int("mismatches", report.Mismatch),
		zap.Bool("chain_intact", report.ChainIntact),
		zap.Bool("summary_consistent", report.SummaryConsistent),
		zap.Int("orphans", len(report.Orphans)),
	}
	if report.Verified {
		s.logger.Info("case verified", fields...)
	} else {
		s.logger.Warn("case verification failed", fields...)
	}
	return report, nil
}

// checkLedger fills the chain integrity and finalization parts of report.
func (s *Coordinator) checkLedger(ctx context.Context, c *model.Case, logs []*model.ProgressLog, report *CaseVerification) error {
	var info *ledger.Info
	err := s.ledgerCall(ctx, func(ctx context.Context) error {
		var err error
		if info, err = s.ledger.Info(ctx, c.LedgerID); err != nil {
			return err
		}
		if verr := s.ledger.Verify(ctx, c.LedgerID); verr != nil {
			if errors.Is(verr, ledger.ErrUnavailable) || errors.Is(verr, ledger.ErrNotFound) {
				return verr
			}
			report.ChainIntact = false
			report.ChainError = verr.Error()
		}
		return nil
	})
	if err != nil {
		return ledgerErr("inspect ledger of", c.ID, err)
	}

	if info.Entries != len(logs) {
		report.ChainIntact = false
		if report.ChainError == "" {
			report.ChainError = fmt.Sprintf("ledger has %d entries, case has %d log rows", info.Entries, len(logs))
		}
	}

	report.Finalized = info.Finalized
	report.FinalHash = c.FinalHash
	if info.FinalHash != nil {
		report.LedgerFinalHash = info.FinalHash.Hex()
	}
	if info.Finalized || c.Status == model.StatusClosed {
		agg, err := aggregate(logs)
		if err != nil {
			return err
		}
		report.RecomputedFinalHash = agg.Hex()
		report.FinalHashMatches = info.Finalized &&
			report.LedgerFinalHash == report.RecomputedFinalHash &&
			c.FinalHash == report.RecomputedFinalHash
	}
	return nil
}

// groupVersions groups verification results by lineage. Rows are visited in
// the given order; a version whose parent index was not seen yet starts a
// provisional group keyed by its own log id.
func groupVersions(logs []*model.ProgressLog, results []*LogVerification) []*VersionGroup {
	var groups []*VersionGroup
	byIndex := make(map[int]*VersionGroup, len(logs))

	for i, l := range logs {
		v := results[i]
		if l.Version <= 1 || l.ParentIndex == nil {
			g := &VersionGroup{Key: l.ID, Original: v, Edits: []*LogVerification{}}
			groups = append(groups, g)
			byIndex[l.LedgerIndex()] = g
			continue
		}
		g, ok := byIndex[*l.ParentIndex]
		if !ok {
			g = &VersionGroup{Key: l.ID, Provisional: true, Edits: []*LogVerification{}}
			groups = append(groups, g)
		}
		g.Edits = append(g.Edits, v)
		byIndex[l.LedgerIndex()] = g
	}
	return groups
}

// ArchiveReport verifies a case and stores the report in the configured
// archive. It returns the location of the stored report.
func (s *Coordinator) ArchiveReport(ctx context.Context, caseID, requester string) (string, error) {
	if s.archive == nil {
		return "", fmt.Errorf("archive report for %s: no archive configured: %w", caseID, ErrInvalidState)
	}
	report, err := s.VerifyCase(ctx, caseID, requester)
	if err != nil {
		return "", err
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := fmt.Sprintf("reports/%s/%s.json", caseID, report.CheckedAt.Format("20060102T150405.000000Z"))
	loc, err := s.archive.Put(ctx, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("archive report for %s: %w", caseID, err)
	}
	s.logger.Info("verification report archived",
		zap.String("case_id", caseID),
		zap.String("location", loc),
		zap.Bool("verified", report.Verified),
	)
	return loc, nil
}
