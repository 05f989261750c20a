package service

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/caseledger/internal/casework/repository"
)

var (
	// ErrNotFound is returned when a case or log does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the caller's role, ownership or grant
	// does not permit the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when an identifier claim lost a race after the
	// configured retries, or when an edit targets a superseded version.
	ErrConflict = errors.New("conflict")
	// ErrLedgerUnavailable is returned when the ledger could not be reached,
	// rejected the write, or timed out. No local state is committed.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerDiverged is returned when the ledger length no longer matches
	// the local sequence of a case. Writes are refused until reconciled.
	ErrLedgerDiverged = errors.New("ledger diverged from local store")
	// ErrInvalidState is returned when the case status does not allow the
	// operation.
	ErrInvalidState = errors.New("invalid case state")
)

// storeErr translates repository sentinels into service errors, keeping the
// original error in the chain.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// ledgerErr wraps a failed ledger call. Every ledger failure surfaces as
// ErrLedgerUnavailable; the cause stays reachable through errors.Is.
func ledgerErr(op, scope string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, scope, ErrLedgerUnavailable, err)
}
