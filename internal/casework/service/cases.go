package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmerrifield20/caseledger/internal/canonical"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"go.uber.org/zap"
)

// CreateCase opens a pending case between lawyer and client and allocates its
// identifier from the lawyer/client pair's sequence.
func (s *Coordinator) CreateCase(ctx context.Context, lawyer, client, title string) (*model.Case, error) {
	if err := ids.ValidateParty(lawyer); err != nil {
		return nil, &model.ErrValidation{Msg: "lawyer: " + err.Error()}
	}
	if err := ids.ValidateParty(client); err != nil {
		return nil, &model.ErrValidation{Msg: "client: " + err.Error()}
	}
	if lawyer == client {
		return nil, &model.ErrValidation{Msg: "lawyer and client must be different parties"}
	}
	title = strings.TrimSpace(title)

	var created *model.Case
	err := s.write(ctx, "create case", func(tx repository.Tx) error {
		seq, err := tx.ClaimSequence(ctx, ids.CaseScope(lawyer, client))
		if err != nil {
			return storeErr("allocate case id", err)
		}
		now := s.clock()
		c := &model.Case{
			ID:        ids.CaseID(lawyer, client, seq),
			LawyerID:  lawyer,
			ClientID:  client,
			Title:     title,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateCase(ctx, c); err != nil {
			return storeErr("create case "+c.ID, err)
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case created",
		zap.String("case_id", created.ID),
		zap.String("lawyer_id", lawyer),
		zap.String("client_id", client),
	)
	return created, nil
}

// GetCase returns a case the requester may read.
func (s *Coordinator) GetCase(ctx context.Context, caseID, requester string) (*model.Case, error) {
	var c *model.Case
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		c, err = s.readableCase(ctx, tx, caseID, requester)
		return err
	})
	return c, err
}

// Summary returns the log count and total time of the current logs of a case.
func (s *Coordinator) Summary(ctx context.Context, caseID, requester string) (model.CaseSummary, error) {
	c, err := s.GetCase(ctx, caseID, requester)
	if err != nil {
		return model.CaseSummary{}, err
	}
	return c.Summary(), nil
}

// ListCasesFor returns the cases where partyID is the lawyer or the client.
func (s *Coordinator) ListCasesFor(ctx context.Context, partyID string) ([]*model.Case, error) {
	var out []*model.Case
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListCasesByParty(ctx, partyID)
		if err != nil {
			return storeErr("list cases", err)
		}
		return nil
	})
	return out, err
}

// Transition moves a case to a new status and records the change.
//
// Activation is performed by the client and opens the case ledger with the
// party digests. Every other move is performed by the lawyer. Closing the
// case finalizes the ledger with the aggregate of every stored log digest;
// any other transition posts the status digest to the ledger status channel.
// Ledger failure leaves the case in its previous status.
func (s *Coordinator) Transition(ctx context.Context, caseID, actor string, req model.TransitionRequest) (*model.StatusChange, error) {
	req.Label = strings.TrimSpace(req.Label)
	req.Reason = strings.TrimSpace(req.Reason)
	if !req.Status.Valid() {
		return nil, &model.ErrValidation{Msg: fmt.Sprintf("unknown status %q", req.Status)}
	}

	var change *model.StatusChange
	err := s.write(ctx, "transition case "+caseID, func(tx repository.Tx) error {
		c, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return storeErr("load case "+caseID, err)
		}
		if !c.IsParticipant(actor) {
			return fmt.Errorf("transition case %s as %s: %w", caseID, actor, ErrUnauthorized)
		}
		if err := model.CheckTransition(c.Status, c.StatusLabel, req.Status, req.Label); err != nil {
			return err
		}

		activating := c.Status == model.StatusPending
		switch {
		case activating && actor != c.ClientID:
			return fmt.Errorf("activate case %s: only the client may accept the case: %w", caseID, ErrUnauthorized)
		case !activating && actor != c.LawyerID:
			return fmt.Errorf("transition case %s: only the lawyer may change the status: %w", caseID, ErrUnauthorized)
		}

		now := s.clock()
		display := model.Display(req.Status, req.Label)
		sc := &model.StatusChange{
			ID:        uuid.New(),
			CaseID:    caseID,
			OldStatus: c.Status,
			OldLabel:  c.StatusLabel,
			NewStatus: req.Status,
			NewLabel:  req.Label,
			ActorID:   actor,
			Reason:    req.Reason,
			Timestamp: now,
		}

		if activating {
			var ledgerID string
			err := s.ledgerCall(ctx, func(ctx context.Context) error {
				var err error
				ledgerID, err = s.ledger.Open(ctx, caseID, canonical.PartyDigest(c.LawyerID), canonical.PartyDigest(c.ClientID))
				return err
			})
			if err != nil {
				return ledgerErr("open ledger for", caseID, err)
			}
			c.LedgerID = ledgerID
		}

		// Ledger call goes last so that every store failure happens before it.
		var ledgerOp func(ctx context.Context) error
		if req.Status == model.StatusClosed {
			logs, err := tx.ListLogs(ctx, caseID)
			if err != nil {
				return storeErr("list logs of "+caseID, err)
			}
			agg, err := aggregate(logs)
			if err != nil {
				return err
			}
			sc.LedgerDigest = agg.Hex()
			c.FinalHash = agg.Hex()
			c.ClosedAt = &now
			ledgerOp = func(ctx context.Context) error {
				err := s.ledger.Finalize(ctx, c.LedgerID, agg)
				s.metrics.LedgerWrite("finalize", err)
				return err
			}
		} else {
			digest := canonical.StatusDigest(display, actor, now)
			sc.LedgerDigest = digest.Hex()
			ledgerOp = func(ctx context.Context) error {
				err := s.ledger.PostStatus(ctx, c.LedgerID, display, digest)
				s.metrics.LedgerWrite("status", err)
				return err
			}
		}

		c.Status = req.Status
		c.StatusLabel = req.Label
		c.UpdatedAt = now
		if err := tx.CreateStatusChange(ctx, sc); err != nil {
			return storeErr("record status change", err)
		}
		if err := tx.UpdateCase(ctx, c); err != nil {
			return storeErr("update case "+caseID, err)
		}

		if err := s.ledgerCall(ctx, ledgerOp); err != nil {
			s.logger.Error("ledger status write failed",
				zap.String("case_id", caseID),
				zap.String("status", display),
				zap.Error(err),
			)
			return ledgerErr("post status "+display+" for", caseID, err)
		}
		change = sc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case status changed",
		zap.String("case_id", caseID),
		zap.String("from", model.Display(change.OldStatus, change.OldLabel)),
		zap.String("to", model.Display(change.NewStatus, change.NewLabel)),
		zap.String("actor_id", actor),
	)
	return change, nil
}

// StatusHistory returns every status change of a case, oldest first.
func (s *Coordinator) StatusHistory(ctx context.Context, caseID, requester string) ([]*model.StatusChange, error) {
	var out []*model.StatusChange
	err := s.read(ctx, func(tx repository.Tx) error {
		if _, err := s.readableCase(ctx, tx, caseID, requester); err != nil {
			return err
		}
		var err error
		out, err = tx.ListStatusChanges(ctx, caseID)
		if err != nil {
			return storeErr("list status changes of "+caseID, err)
		}
		return nil
	})
	return out, err
}

// aggregate computes the closing digest over the stored hashes of logs, which
// must already be in timestamp order.
func aggregate(logs []*model.ProgressLog) (canonical.Digest, error) {
	digests := make([]canonical.Digest, 0, len(logs))
	for _, l := range logs {
		d, err := canonical.ParseDigest(l.Hash)
		if err != nil {
			return canonical.Digest{}, fmt.Errorf("stored hash of %s: %w", l.ID, err)
		}
		digests = append(digests, d)
	}
	return canonical.Aggregate(digests), nil
}
