package ledger

import (
	"errors"

	"github.com/jmerrifield20/caseledger/internal/canonical"
)

// Request and response bodies of the ledger service HTTP API.
// Served by internal/ledgerapi and consumed by RemoteLedger.

type OpenRequest struct {
	CaseID       string           `json:"case_id" binding:"required"`
	LawyerDigest canonical.Digest `json:"lawyer_digest"`
	ClientDigest canonical.Digest `json:"client_digest"`
}

type OpenResponse struct {
	LedgerID string `json:"ledger_id"`
}

type AppendRequest struct {
	Hash        canonical.Digest `json:"hash"`
	ParentIndex *int             `json:"parent_index,omitempty"`
}

type AppendResponse struct {
	Index int `json:"index"`
}

type StatusRequest struct {
	Status string           `json:"status" binding:"required"`
	Digest canonical.Digest `json:"digest"`
}

type FinalizeRequest struct {
	Hash canonical.Digest `json:"hash"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound      = "not_found"
	CodeFinalized     = "finalized"
	CodeInvalidParent = "invalid_parent"
	CodeExists        = "exists"
)

var codeErrors = map[string]error{
	CodeNotFound:      ErrNotFound,
	CodeFinalized:     ErrFinalized,
	CodeInvalidParent: ErrInvalidParent,
	CodeExists:        ErrExists,
}

// ErrorCode returns the wire code for a ledger sentinel error, or "" when err
// is not one.
func ErrorCode(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func errorForCode(code string) error {
	return codeErrors[code]
}
