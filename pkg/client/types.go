package client

import "time"

// Case mirrors the case record returned by the API.
type Case struct {
	ID             string     `json:"id"`
	LawyerID       string     `json:"lawyer_id"`
	ClientID       string     `json:"client_id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	StatusLabel    string     `json:"status_label,omitempty"`
	LedgerID       string     `json:"ledger_id,omitempty"`
	FinalHash      string     `json:"final_hash,omitempty"`
	TotalLogs      int        `json:"total_logs"`
	TotalTimeSpent int        `json:"total_time_spent"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// Summary is the aggregate view of a case.
type Summary struct {
	CaseID         string `json:"case_id"                yaml:"case_id"`
	Status         string `json:"status"                 yaml:"status"`
	StatusLabel    string `json:"status_label,omitempty" yaml:"status_label,omitempty"`
	TotalLogs      int    `json:"total_logs"             yaml:"total_logs"`
	TotalTimeSpent int    `json:"total_time_spent"       yaml:"total_time_spent"`
}

// StatusChange is one entry of a case's status history.
type StatusChange struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	OldStatus    string    `json:"old_status"`
	OldLabel     string    `json:"old_label,omitempty"`
	NewStatus    string    `json:"new_status"`
	NewLabel     string    `json:"new_label,omitempty"`
	ActorID      string    `json:"actor_id"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	LedgerDigest string    `json:"ledger_digest,omitempty"`
}

// ProgressLog is one version of a work-log entry.
type ProgressLog struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	Seq          int       `json:"seq"`
	AuthorID     string    `json:"author_id"`
	Description  string    `json:"description"`
	TimeSpent    int       `json:"time_spent"`
	Timestamp    time.Time `json:"timestamp"`
	Edited       bool      `json:"edited"`
	Version      int       `json:"version"`
	ParentIndex  *int      `json:"parent_index,omitempty"`
	OriginID     string    `json:"origin_id"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	Hash         string    `json:"hash"`
	Orphan       bool      `json:"orphan,omitempty"`
}

// LogSnapshot is the state of a log immediately before an edit.
type LogSnapshot struct {
	LogID             string    `json:"log_id"`
	Version           int       `json:"version"`
	OldDescription    string    `json:"old_description"`
	OldTimeSpent      int       `json:"old_time_spent"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
	EditedBy          string    `json:"edited_by"`
	EditedAt          time.Time `json:"edited_at"`
	SupersededBy      string    `json:"superseded_by"`
}

// LogHistory is every version of one log lineage.
type LogHistory struct {
	OriginID  string         `json:"origin_id"`
	HeadID    string         `json:"head_id"`
	Versions  []*ProgressLog `json:"versions"`
	Snapshots []*LogSnapshot `json:"snapshots"`
}

// AuditGrant gives an auditor time-limited read access to a case.
type AuditGrant struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	AuditorID string    `json:"auditor_id"`
	GrantedBy string    `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LogVerification is the result of checking one log row against the ledger.
type LogVerification struct {
	LogID          string `json:"log_id"           yaml:"log_id"`
	LedgerIndex    int    `json:"ledger_index"     yaml:"ledger_index"`
	Verified       bool   `json:"verified"         yaml:"verified"`
	RecomputedHash string `json:"recomputed_hash"  yaml:"recomputed_hash"`
	OnChainHash    string `json:"on_chain_hash"    yaml:"on_chain_hash"`
	Version        int    `json:"version"          yaml:"version"`
	ParentIndex    *int   `json:"parent_index,omitempty" yaml:"parent_index,omitempty"`
	Superseded     bool   `json:"superseded"       yaml:"superseded"`
	Orphan         bool   `json:"orphan,omitempty" yaml:"orphan,omitempty"`
	Problem        string `json:"problem,omitempty" yaml:"problem,omitempty"`
}

// VersionGroup is a log lineage within a case verification.
type VersionGroup struct {
	Key         string             `json:"key"         yaml:"key"`
	Provisional bool               `json:"provisional" yaml:"provisional"`
	Original    *LogVerification   `json:"original"    yaml:"original"`
	Edits       []*LogVerification `json:"edits"       yaml:"edits"`
}

// CaseVerification is the result of checking a whole case.
type CaseVerification struct {
	CaseID              string          `json:"case_id"               yaml:"case_id"`
	LedgerID            string          `json:"ledger_id"             yaml:"ledger_id"`
	Status              string          `json:"status"                yaml:"status"`
	CheckedAt           time.Time       `json:"checked_at"            yaml:"checked_at"`
	Verified            bool            `json:"verified"              yaml:"verified"`
	Logs                int             `json:"logs"                  yaml:"logs"`
	Mismatch            int             `json:"mismatches"            yaml:"mismatches"`
	Groups              []*VersionGroup `json:"groups"                yaml:"groups"`
	Orphans             []string        `json:"orphans,omitempty"     yaml:"orphans,omitempty"`
	ChainIntact         bool            `json:"chain_intact"          yaml:"chain_intact"`
	ChainError          string          `json:"chain_error,omitempty" yaml:"chain_error,omitempty"`
	SummaryConsistent   bool            `json:"summary_consistent"    yaml:"summary_consistent"`
	StoredSummary       Summary         `json:"stored_summary"        yaml:"stored_summary"`
	ComputedSummary     Summary         `json:"computed_summary"      yaml:"computed_summary"`
	Finalized           bool            `json:"finalized"             yaml:"finalized"`
	FinalHash           string          `json:"final_hash,omitempty"  yaml:"final_hash,omitempty"`
	LedgerFinalHash     string          `json:"ledger_final_hash,omitempty" yaml:"ledger_final_hash,omitempty"`
	RecomputedFinalHash string          `json:"recomputed_final_hash,omitempty" yaml:"recomputed_final_hash,omitempty"`
	FinalHashMatches    bool            `json:"final_hash_matches"    yaml:"final_hash_matches"`
}

// Reconciliation is the result of reconciling a case with its ledger.
// Adopted is nil when nothing needed adopting.
type Reconciliation struct {
	CaseID     string       `json:"case_id"`
	LedgerLen  int          `json:"ledger_len"`
	StoredRows int          `json:"stored_rows"`
	Adopted    *ProgressLog `json:"adopted,omitempty"`
}
