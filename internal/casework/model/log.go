package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/caseledger/internal/canonical"
)

// ProgressLog is one version of a work-log entry. Editing a log creates a new
// row (the successor) and marks the previous one as edited; every row keeps
// the fields it was hashed with.
type ProgressLog struct {
	ID           string    `json:"id"                      db:"id"`
	CaseID       string    `json:"case_id"                 db:"case_id"`
	Seq          int       `json:"seq"                     db:"seq"`
	AuthorID     string    `json:"author_id"               db:"author_id"`
	Description  string    `json:"description"             db:"description"`
	TimeSpent    int       `json:"time_spent"              db:"time_spent"`
	Timestamp    time.Time `json:"timestamp"               db:"logged_at"`
	Edited       bool      `json:"edited"                  db:"edited"`
	Version      int       `json:"version"                 db:"version"`
	ParentIndex  *int      `json:"parent_index,omitempty"  db:"parent_idx"`
	OriginID     string    `json:"origin_id"               db:"origin_id"`
	SupersededBy string    `json:"superseded_by,omitempty" db:"superseded_by"`
	Hash         string    `json:"hash"                    db:"hash"`

	// Orphan rows adopt a ledger entry whose local commit was lost. They have
	// no content, carry the on-chain hash and never count towards the summary.
	Orphan bool `json:"orphan,omitempty" db:"orphan"`
}

// Current reports whether the row counts as a live log: neither superseded
// by an edit nor an adopted orphan.
func (l *ProgressLog) Current() bool {
	return !l.Edited && !l.Orphan
}

// LedgerIndex is the ledger entry this row is anchored at.
func (l *ProgressLog) LedgerIndex() int {
	return l.Seq - 1
}

// Record returns the fields that make up the canonical string of the row.
func (l *ProgressLog) Record() canonical.Record {
	return canonical.Record{
		CaseID:      l.CaseID,
		LogID:       l.ID,
		Description: l.Description,
		TimeSpent:   l.TimeSpent,
		Timestamp:   l.Timestamp,
	}
}

// ComputeHash returns the digest of the row's canonical string.
func (l *ProgressLog) ComputeHash() canonical.Digest {
	return canonical.HashLog(l.Record())
}

// LogVersion snapshots the state of a log immediately before it was edited.
type LogVersion struct {
	ID                uuid.UUID `json:"id"                 db:"id"`
	LogID             string    `json:"log_id"             db:"log_id"`
	OriginID          string    `json:"origin_id"          db:"origin_id"`
	CaseID            string    `json:"case_id"            db:"case_id"`
	Version           int       `json:"version"            db:"version"`
	OldDescription    string    `json:"old_description"    db:"old_description"`
	OldTimeSpent      int       `json:"old_time_spent"     db:"old_time_spent"`
	OriginalTimestamp time.Time `json:"original_timestamp" db:"original_logged_at"`
	EditedBy          string    `json:"edited_by"          db:"edited_by"`
	EditedAt          time.Time `json:"edited_at"          db:"edited_at"`
	SupersededBy      string    `json:"superseded_by"      db:"superseded_by"`
}

// LogRequest is the payload for recording a new log or an edit.
type LogRequest struct {
	Description string `json:"description" binding:"required,max=10000"`
	TimeSpent   *int   `json:"time_spent"  binding:"required,min=0,max=100000"`
}
