// Package ids formats and parses caseledger identifiers.
//
// Identifier formats:
//
//	C-{lawyer}-{client}-{seq}   case, e.g. C-7-12-01
//	L-{case_id}-{seq}           progress log, e.g. L-C-7-12-01-03
//
// Sequence numbers are rendered with at least two digits and start at 1.
// The ledger index of a progress log is its sequence number minus one.
//
// Party identifiers are restricted to [A-Za-z0-9_] so that the "-" separator
// (and the "|" separator of canonical log strings) never appears inside them.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	casePrefix = "C-"
	logPrefix  = "L-"
)

// CaseRef is a parsed case identifier.
type CaseRef struct {
	Lawyer string
	Client string
	Seq    int
}

// String returns the canonical case identifier.
func (r CaseRef) String() string {
	return CaseID(r.Lawyer, r.Client, r.Seq)
}

// LogRef is a parsed progress-log identifier.
type LogRef struct {
	CaseID string
	Seq    int
}

// String returns the canonical log identifier.
func (r LogRef) String() string {
	return LogID(r.CaseID, r.Seq)
}

// LedgerIndex returns the zero-based ledger index addressed by this log.
func (r LogRef) LedgerIndex() int {
	return r.Seq - 1
}

// CaseID formats a case identifier.
func CaseID(lawyer, client string, seq int) string {
	return fmt.Sprintf("%s%s-%s-%02d", casePrefix, lawyer, client, seq)
}

// LogID formats a progress-log identifier.
func LogID(caseID string, seq int) string {
	return fmt.Sprintf("%s%s-%02d", logPrefix, caseID, seq)
}

// CaseScope is the allocation scope for case sequence numbers of a
// lawyer/client pair.
func CaseScope(lawyer, client string) string {
	return "case:" + lawyer + ":" + client
}

// LogScope is the allocation scope for log sequence numbers of a case.
func LogScope(caseID string) string {
	return "log:" + caseID
}

// ParseCaseID parses a case identifier of the form C-{lawyer}-{client}-{seq}.
func ParseCaseID(s string) (CaseRef, error) {
	if !strings.HasPrefix(s, casePrefix) {
		return CaseRef{}, fmt.Errorf("case id %q must start with %q", s, casePrefix)
	}
	parts := strings.Split(strings.TrimPrefix(s, casePrefix), "-")
	if len(parts) != 3 {
		return CaseRef{}, fmt.Errorf("case id %q must have the form C-{lawyer}-{client}-{seq}", s)
	}
	if err := ValidateParty(parts[0]); err != nil {
		return CaseRef{}, fmt.Errorf("case id %q: lawyer: %w", s, err)
	}
	if err := ValidateParty(parts[1]); err != nil {
		return CaseRef{}, fmt.Errorf("case id %q: client: %w", s, err)
	}
	seq, err := parseSeq(parts[2])
	if err != nil {
		return CaseRef{}, fmt.Errorf("case id %q: %w", s, err)
	}
	return CaseRef{Lawyer: parts[0], Client: parts[1], Seq: seq}, nil
}

// ParseLogID parses a log identifier of the form L-{case_id}-{seq}.
func ParseLogID(s string) (LogRef, error) {
	if !strings.HasPrefix(s, logPrefix) {
		return LogRef{}, fmt.Errorf("log id %q must start with %q", s, logPrefix)
	}
	rest := strings.TrimPrefix(s, logPrefix)
	i := strings.LastIndexByte(rest, '-')
	if i < 0 {
		return LogRef{}, fmt.Errorf("log id %q must have the form L-{case_id}-{seq}", s)
	}
	caseRef, err := ParseCaseID(rest[:i])
	if err != nil {
		return LogRef{}, fmt.Errorf("log id %q: %w", s, err)
	}
	seq, err := parseSeq(rest[i+1:])
	if err != nil {
		return LogRef{}, fmt.Errorf("log id %q: %w", s, err)
	}
	return LogRef{CaseID: caseRef.String(), Seq: seq}, nil
}

// LedgerIndex returns the ledger index addressed by a log identifier.
func LedgerIndex(logID string) (int, error) {
	ref, err := ParseLogID(logID)
	if err != nil {
		return 0, err
	}
	return ref.LedgerIndex(), nil
}

// ValidateParty checks that id is usable as a lawyer, client or auditor identifier.
func ValidateParty(id string) error {
	if id == "" {
		return fmt.Errorf("party id must not be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("party id %q is longer than 64 characters", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("party id %q contains invalid character %q", id, r)
		}
	}
	return nil
}

func parseSeq(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("sequence %q must be a positive integer", s)
	}
	if fmt.Sprintf("%02d", n) != s {
		return 0, fmt.Errorf("sequence %q is not zero-padded to two digits", s)
	}
	return n, nil
}
