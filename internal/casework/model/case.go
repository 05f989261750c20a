package model

import (
	"time"

	"github.com/google/uuid"
)

// Case is a legal matter between one lawyer and one client.
type Case struct {
	ID             string     `json:"id"                   db:"id"`
	LawyerID       string     `json:"lawyer_id"            db:"lawyer_id"`
	ClientID       string     `json:"client_id"            db:"client_id"`
	Title          string     `json:"title"                db:"title"`
	Status         Status     `json:"status"               db:"status"`
	StatusLabel    string     `json:"status_label,omitempty" db:"status_label"`
	LedgerID       string     `json:"ledger_id,omitempty"  db:"ledger_id"`
	FinalHash      string     `json:"final_hash,omitempty" db:"final_hash"`
	TotalLogs      int        `json:"total_logs"           db:"total_logs"`
	TotalTimeSpent int        `json:"total_time_spent"     db:"total_time_spent"`
	CreatedAt      time.Time  `json:"created_at"           db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"           db:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"  db:"closed_at"`
}

// IsParticipant reports whether id is the lawyer or the client of the case.
func (c *Case) IsParticipant(id string) bool {
	return id != "" && (id == c.LawyerID || id == c.ClientID)
}

// Summary returns the aggregate view of the case.
func (c *Case) Summary() CaseSummary {
	return CaseSummary{
		CaseID:         c.ID,
		Status:         c.Status,
		StatusLabel:    c.StatusLabel,
		TotalLogs:      c.TotalLogs,
		TotalTimeSpent: c.TotalTimeSpent,
	}
}

// CaseSummary aggregates the current logs of a case.
type CaseSummary struct {
	CaseID         string `json:"case_id"`
	Status         Status `json:"status"`
	StatusLabel    string `json:"status_label,omitempty"`
	TotalLogs      int    `json:"total_logs"`
	TotalTimeSpent int    `json:"total_time_spent"`
}

// StatusChange is an append-only record of a case status transition.
type StatusChange struct {
	ID           uuid.UUID `json:"id"                      db:"id"`
	CaseID       string    `json:"case_id"                 db:"case_id"`
	OldStatus    Status    `json:"old_status"              db:"old_status"`
	OldLabel     string    `json:"old_label,omitempty"     db:"old_label"`
	NewStatus    Status    `json:"new_status"              db:"new_status"`
	NewLabel     string    `json:"new_label,omitempty"     db:"new_label"`
	ActorID      string    `json:"actor_id"                db:"actor_id"`
	Reason       string    `json:"reason,omitempty"        db:"reason"`
	Timestamp    time.Time `json:"timestamp"               db:"changed_at"`
	LedgerDigest string    `json:"ledger_digest,omitempty" db:"ledger_digest"`
}

// AuditGrant gives an auditor time-limited read access to a case.
type AuditGrant struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	CaseID    string    `json:"case_id"    db:"case_id"`
	AuditorID string    `json:"auditor_id" db:"auditor_id"`
	GrantedBy string    `json:"granted_by" db:"granted_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ActiveAt reports whether the grant authorizes access at now. The expiry
// instant itself is not covered.
func (g *AuditGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// CreateCaseRequest is the payload for opening a new case.
type CreateCaseRequest struct {
	ClientID string `json:"client_id" binding:"required,party"`
	Title    string `json:"title"     binding:"max=200"`
}

// TransitionRequest is the payload for a case status change.
type TransitionRequest struct {
	Status Status `json:"status" binding:"required"`
	Label  string `json:"label"  binding:"max=100"`
	Reason string `json:"reason" binding:"max=2000"`
}

// GrantRequest is the payload for granting an auditor access.
type GrantRequest struct {
	AuditorID string `json:"auditor_id" binding:"required,party"`
	TTLHours  int    `json:"ttl_hours"  binding:"required,min=1"`
}
