package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/caseledger/internal/canonical"
)

// GenesisHash is the chain value the first entry of every ledger chains from.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single record in a case ledger.
type Entry struct {
	Index       int              `json:"index"`
	Hash        canonical.Digest `json:"hash"`
	Version     int              `json:"version"`
	ParentIndex *int             `json:"parent_index,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	PrevChain   string           `json:"prev_chain"`
	Chain       string           `json:"chain"`
}

// StatusEvent is a record on a ledger's status channel.
type StatusEvent struct {
	Seq       int              `json:"seq"`
	Status    string           `json:"status"`
	Digest    canonical.Digest `json:"digest"`
	Timestamp time.Time        `json:"timestamp"`
}

// Info summarises a case ledger.
type Info struct {
	ID           string            `json:"id"`
	CaseID       string            `json:"case_id"`
	LawyerDigest canonical.Digest  `json:"lawyer_digest"`
	ClientDigest canonical.Digest  `json:"client_digest"`
	Entries      int               `json:"entries"`
	Status       string            `json:"status,omitempty"`
	Finalized    bool              `json:"finalized"`
	FinalHash    *canonical.Digest `json:"final_hash,omitempty"`
	Root         string            `json:"root"`
	CreatedAt    time.Time         `json:"created_at"`
}

// chainEntry computes the chain hash of e within the ledger identified by ledgerID.
func chainEntry(ledgerID string, e *Entry) string {
	parent := "-"
	if e.ParentIndex != nil {
		parent = strconv.Itoa(*e.ParentIndex)
	}
	data := fmt.Sprintf("%s|%d|%s|%d|%s|%s|%s",
		ledgerID, e.Index, e.Hash.Hex(), e.Version, parent,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevChain,
	)
	return canonical.Sum([]byte(data)).Hex()
}

// verifyChain checks that entries form an intact chain starting at index 0.
func verifyChain(ledgerID string, entries []*Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("entry at position %d has index %d", i, e.Index)
		}
		if e.PrevChain != prev {
			return fmt.Errorf("hash chain broken at index %d", e.Index)
		}
		if e.Chain != chainEntry(ledgerID, e) {
			return fmt.Errorf("entry %d has invalid chain hash", e.Index)
		}
		if e.ParentIndex == nil {
			if e.Version != 1 {
				return fmt.Errorf("entry %d has version %d without a parent", e.Index, e.Version)
			}
		} else {
			p := *e.ParentIndex
			if p < 0 || p >= e.Index {
				return fmt.Errorf("entry %d has parent %d out of range", e.Index, p)
			}
			if e.Version != entries[p].Version+1 {
				return fmt.Errorf("entry %d has version %d, parent %d has version %d",
					e.Index, e.Version, p, entries[p].Version)
			}
		}
		prev = e.Chain
	}
	return nil
}

func intPtr(i int) *int { return &i }
