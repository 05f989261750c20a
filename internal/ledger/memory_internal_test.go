package ledger

import (
	"context"
	"testing"

	"github.com/jmerrifield20/caseledger/internal/canonical"
)

func TestVerify_detectsRewrittenEntry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id, err := l.Open(ctx, "C-1-2-01", canonical.PartyDigest("1"), canonical.PartyDigest("2"))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"a", "b", "c"} {
		if _, err := l.Append(ctx, id, canonical.Sum([]byte(s))); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Verify(ctx, id); err != nil {
		t.Fatalf("Verify() failed on intact chain: %v", err)
	}

	l.ledgers[id].entries[1].Hash = canonical.Sum([]byte("forged"))
	if err := l.Verify(ctx, id); err == nil {
		t.Error("Verify() should fail after an entry hash is rewritten")
	}
}

func TestVerify_detectsVersionMismatch(t *testing.T) {
	entries := []*Entry{{Index: 0, Version: 1, PrevChain: GenesisHash}}
	entries[0].Chain = chainEntry("x", entries[0])
	e := &Entry{Index: 1, Version: 3, ParentIndex: intPtr(0), PrevChain: entries[0].Chain}
	e.Chain = chainEntry("x", e)
	entries = append(entries, e)

	if err := verifyChain("x", entries); err == nil {
		t.Error("verifyChain should reject a version that skips its parent's successor")
	}
}
