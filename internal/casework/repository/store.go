// Package repository persists cases, progress logs, status changes and audit
// grants. All access goes through a Tx obtained from Store.InTx so that
// identifier allocation and the rows it produces commit or roll back together.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = errors.New("duplicate record")
	// ErrRetryable marks a transaction that lost a serialization or lock race
	// and can be run again from the start.
	ErrRetryable = errors.New("transaction conflict")
)

// Store runs units of work against the case store.
type Store interface {
	// InTx runs fn in a single transaction. It commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// ClaimSequence increments the counter for scope and returns the new
	// value. The first claim for a scope returns 1.
	ClaimSequence(ctx context.Context, scope string) (int, error)

	CreateCase(ctx context.Context, c *model.Case) error
	GetCase(ctx context.Context, id string) (*model.Case, error)
	// LockCase returns the case and holds a row lock on it until the
	// transaction ends.
	LockCase(ctx context.Context, id string) (*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case) error
	// ListCasesByParty returns cases where partyID is the lawyer or the
	// client, newest first.
	ListCasesByParty(ctx context.Context, partyID string) ([]*model.Case, error)

	CreateLog(ctx context.Context, l *model.ProgressLog) error
	GetLog(ctx context.Context, id string) (*model.ProgressLog, error)
	// MarkLogSuperseded flags the log as edited and points it at successor.
	MarkLogSuperseded(ctx context.Context, id, successor string) error
	// ListLogs returns every row of a case ordered by timestamp, then seq.
	ListLogs(ctx context.Context, caseID string) ([]*model.ProgressLog, error)

	CreateLogVersion(ctx context.Context, v *model.LogVersion) error
	// ListLogVersions returns the edit snapshots of a lineage, oldest first.
	ListLogVersions(ctx context.Context, originID string) ([]*model.LogVersion, error)

	CreateStatusChange(ctx context.Context, sc *model.StatusChange) error
	ListStatusChanges(ctx context.Context, caseID string) ([]*model.StatusChange, error)

	CreateGrant(ctx context.Context, g *model.AuditGrant) error
	// ActiveGrant returns the grant for auditorID on caseID with the latest
	// expiry after now, or ErrNotFound.
	ActiveGrant(ctx context.Context, caseID, auditorID string, now time.Time) (*model.AuditGrant, error)
	ListGrants(ctx context.Context, caseID string) ([]*model.AuditGrant, error)
}
