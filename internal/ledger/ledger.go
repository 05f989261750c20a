// Package ledger implements the append-only, per-case ledgers that anchor
// progress-log digests.
//
// Each case owns one ledger, opened when the case is activated. Entries are
// addressed by a zero-based index. An entry is either an original (version 1,
// no parent) or a version of an earlier entry (version = parent.version + 1).
// A ledger is finalized once, with the aggregate digest of the case, after
// which it rejects further writes.
//
// Every entry also records a chain hash over its predecessor so that Verify
// detects rewriting inside the ledger store itself. The first entry chains
// from GenesisHash.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for the ledger service.
//   - RemoteLedger: HTTP client for a ledger service run by cmd/ledgerd.
package ledger

import (
	"context"
	"errors"

	"github.com/jmerrifield20/caseledger/internal/canonical"
)

var (
	// ErrUnavailable is returned when the ledger cannot be reached or did not
	// confirm the operation. Callers must treat the write as not having happened.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrNotFound is returned for unknown ledgers and out-of-range indices.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrFinalized is returned when writing to a finalized ledger.
	ErrFinalized = errors.New("ledger is finalized")

	// ErrInvalidParent is returned by AppendVersion when the parent index does
	// not exist or already has a successor.
	ErrInvalidParent = errors.New("invalid parent entry")

	// ErrExists is returned by Open when the case already has a ledger
	// registered to different parties.
	ErrExists = errors.New("ledger already exists")
)

// Ledger is the interface to the external append-only ledger.
type Ledger interface {
	// Open establishes the ledger for a case and returns its identifier.
	// Opening an already-open case with the same parties returns the
	// existing identifier.
	Open(ctx context.Context, caseID string, lawyer, client canonical.Digest) (string, error)

	// Append records an original entry (version 1) and returns its index.
	Append(ctx context.Context, ledgerID string, hash canonical.Digest) (int, error)

	// AppendVersion records a new version of the entry at parent and returns
	// its index.
	AppendVersion(ctx context.Context, ledgerID string, parent int, hash canonical.Digest) (int, error)

	// Entry returns the entry at index.
	Entry(ctx context.Context, ledgerID string, index int) (*Entry, error)

	// Len returns the number of entries.
	Len(ctx context.Context, ledgerID string) (int, error)

	// PostStatus records a status transition digest on the status channel.
	PostStatus(ctx context.Context, ledgerID, status string, digest canonical.Digest) error

	// Finalize seals the ledger with the aggregate digest of the case.
	Finalize(ctx context.Context, ledgerID string, aggregate canonical.Digest) error

	// Info returns summary information about a ledger.
	Info(ctx context.Context, ledgerID string) (*Info, error)

	// Verify walks the entries of a ledger and checks chain consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context, ledgerID string) error
}
