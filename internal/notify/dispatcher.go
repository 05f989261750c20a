package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"go.uber.org/zap"
)

// Dispatcher turns case events into messages and hands them to a Sender.
// Party IDs are mapped to addresses with an address template in which
// "{party}" is replaced by the ID, for example "{party}@audit.example.com".
type Dispatcher struct {
	sender   Sender
	template string
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. An empty template disables delivery.
func NewDispatcher(sender Sender, addressTemplate string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, template: addressTemplate, logger: logger}
}

// Address returns the address of a party, or "" when no template is set.
func (d *Dispatcher) Address(partyID string) string {
	if d.template == "" {
		return ""
	}
	return strings.ReplaceAll(d.template, "{party}", partyID)
}

// NotifyGrant tells the auditor that read access to a case was granted.
func (d *Dispatcher) NotifyGrant(ctx context.Context, c *model.Case, g *model.AuditGrant) error {
	to := d.Address(g.AuditorID)
	if to == "" {
		d.logger.Debug("no address template, grant notification skipped", zap.String("case_id", c.ID))
		return nil
	}

	subject := fmt.Sprintf("Audit access granted for case %s", c.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "You have been granted read access to case %s", c.ID)
	if c.Title != "" {
		fmt.Fprintf(&b, " (%s)", c.Title)
	}
	fmt.Fprintf(&b, " by %s.\n\n", g.GrantedBy)
	fmt.Fprintf(&b, "Access expires at %s UTC.\n", g.ExpiresAt.UTC().Format(time.RFC1123))
	b.WriteString("Grants cannot be extended; ask a party to the case for a new grant if you need more time.\n")

	if err := d.sender.Send(ctx, to, subject, b.String()); err != nil {
		return fmt.Errorf("notify auditor %s: %w", g.AuditorID, err)
	}
	d.logger.Info("grant notification sent",
		zap.String("case_id", c.ID),
		zap.String("auditor_id", g.AuditorID),
	)
	return nil
}
