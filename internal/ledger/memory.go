package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/caseledger/internal/canonical"
)

type memLedger struct {
	info     Info
	entries  []*Entry
	children map[int]int
	events   []StatusEvent
}

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu      sync.RWMutex
	ledgers map[string]*memLedger
	byCase  map[string]string
	now     func() time.Time
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		ledgers: make(map[string]*memLedger),
		byCase:  make(map[string]string),
		now:     time.Now,
	}
}

// Open implements Ledger.
func (l *MemoryLedger) Open(_ context.Context, caseID string, lawyer, client canonical.Digest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byCase[caseID]; ok {
		existing := l.ledgers[id]
		if existing.info.LawyerDigest != lawyer || existing.info.ClientDigest != client {
			return "", fmt.Errorf("open ledger for case %s: %w", caseID, ErrExists)
		}
		return id, nil
	}

	id := uuid.NewString()
	l.ledgers[id] = &memLedger{
		info: Info{
			ID:           id,
			CaseID:       caseID,
			LawyerDigest: lawyer,
			ClientDigest: client,
			Root:         GenesisHash,
			CreatedAt:    l.now().UTC(),
		},
		children: make(map[int]int),
	}
	l.byCase[caseID] = id
	return id, nil
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, ledgerID string, hash canonical.Digest) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ml, err := l.writable(ledgerID)
	if err != nil {
		return 0, err
	}
	return l.appendLocked(ml, hash, 1, nil), nil
}

// AppendVersion implements Ledger.
func (l *MemoryLedger) AppendVersion(_ context.Context, ledgerID string, parent int, hash canonical.Digest) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ml, err := l.writable(ledgerID)
	if err != nil {
		return 0, err
	}
	if parent < 0 || parent >= len(ml.entries) {
		return 0, fmt.Errorf("parent %d out of range: %w", parent, ErrInvalidParent)
	}
	if child, ok := ml.children[parent]; ok {
		return 0, fmt.Errorf("parent %d already superseded by %d: %w", parent, child, ErrInvalidParent)
	}
	idx := l.appendLocked(ml, hash, ml.entries[parent].Version+1, intPtr(parent))
	ml.children[parent] = idx
	return idx, nil
}

func (l *MemoryLedger) appendLocked(ml *memLedger, hash canonical.Digest, version int, parent *int) int {
	e := &Entry{
		Index:       len(ml.entries),
		Hash:        hash,
		Version:     version,
		ParentIndex: parent,
		Timestamp:   canonical.Normalize(l.now()),
		PrevChain:   ml.info.Root,
	}
	e.Chain = chainEntry(ml.info.ID, e)
	ml.entries = append(ml.entries, e)
	ml.info.Root = e.Chain
	ml.info.Entries = len(ml.entries)
	return e.Index
}

// Entry implements Ledger.
func (l *MemoryLedger) Entry(_ context.Context, ledgerID string, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	if index < 0 || index >= len(ml.entries) {
		return nil, fmt.Errorf("index %d out of range: %w", index, ErrNotFound)
	}
	cp := *ml.entries[index]
	if cp.ParentIndex != nil {
		cp.ParentIndex = intPtr(*cp.ParentIndex)
	}
	return &cp, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context, ledgerID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return 0, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	return len(ml.entries), nil
}

// PostStatus implements Ledger.
func (l *MemoryLedger) PostStatus(_ context.Context, ledgerID, status string, digest canonical.Digest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ml, err := l.writable(ledgerID)
	if err != nil {
		return err
	}
	ml.events = append(ml.events, StatusEvent{
		Seq:       len(ml.events) + 1,
		Status:    status,
		Digest:    digest,
		Timestamp: l.now().UTC(),
	})
	ml.info.Status = status
	return nil
}

// Finalize implements Ledger.
func (l *MemoryLedger) Finalize(_ context.Context, ledgerID string, aggregate canonical.Digest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ml, err := l.writable(ledgerID)
	if err != nil {
		return err
	}
	final := aggregate
	ml.info.Finalized = true
	ml.info.FinalHash = &final
	ml.info.Status = "closed"
	return nil
}

// Info implements Ledger.
func (l *MemoryLedger) Info(_ context.Context, ledgerID string) (*Info, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	info := ml.info
	if info.FinalHash != nil {
		final := *info.FinalHash
		info.FinalHash = &final
	}
	return &info, nil
}

// StatusEvents returns a copy of the status channel of a ledger.
func (l *MemoryLedger) StatusEvents(ledgerID string) []StatusEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return nil
	}
	return append([]StatusEvent(nil), ml.events...)
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context, ledgerID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	return verifyChain(ledgerID, ml.entries)
}

// writable returns the ledger if it exists and is not finalized.
// Callers must hold l.mu.
func (l *MemoryLedger) writable(ledgerID string) (*memLedger, error) {
	ml, ok := l.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	if ml.info.Finalized {
		return nil, fmt.Errorf("ledger %s: %w", ledgerID, ErrFinalized)
	}
	return ml, nil
}
