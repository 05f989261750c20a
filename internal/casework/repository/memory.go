package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
)

// MemoryStore is an in-process Store used by tests and by the server when no
// database is configured. Transactions are serialized by a single mutex and
// work on a copy of the state that replaces the committed state on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	counters map[string]int
	cases    map[string]*model.Case
	logs     map[string]*model.ProgressLog
	versions []*model.LogVersion
	changes  []*model.StatusChange
	grants   []*model.AuditGrant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		counters: make(map[string]int),
		cases:    make(map[string]*model.Case),
		logs:     make(map[string]*model.ProgressLog),
	}}
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *memState) clone() *memState {
	out := &memState{
		counters: make(map[string]int, len(st.counters)),
		cases:    make(map[string]*model.Case, len(st.cases)),
		logs:     make(map[string]*model.ProgressLog, len(st.logs)),
		versions: append([]*model.LogVersion(nil), st.versions...),
		changes:  append([]*model.StatusChange(nil), st.changes...),
		grants:   append([]*model.AuditGrant(nil), st.grants...),
	}
	for k, v := range st.counters {
		out.counters[k] = v
	}
	for k, v := range st.cases {
		c := *v
		out.cases[k] = &c
	}
	for k, v := range st.logs {
		l := *v
		out.logs[k] = &l
	}
	return out
}

type memTx struct {
	st *memState
}

func (t *memTx) ClaimSequence(_ context.Context, scope string) (int, error) {
	t.st.counters[scope]++
	return t.st.counters[scope], nil
}

func (t *memTx) CreateCase(_ context.Context, c *model.Case) error {
	if _, ok := t.st.cases[c.ID]; ok {
		return fmt.Errorf("case %s: %w", c.ID, ErrDuplicate)
	}
	cp := *c
	t.st.cases[c.ID] = &cp
	return nil
}

func (t *memTx) GetCase(_ context.Context, id string) (*model.Case, error) {
	c, ok := t.st.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) LockCase(ctx context.Context, id string) (*model.Case, error) {
	return t.GetCase(ctx, id)
}

func (t *memTx) UpdateCase(_ context.Context, c *model.Case) error {
	if _, ok := t.st.cases[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	t.st.cases[c.ID] = &cp
	return nil
}

func (t *memTx) ListCasesByParty(_ context.Context, partyID string) ([]*model.Case, error) {
	var out []*model.Case
	for _, c := range t.st.cases {
		if c.IsParticipant(partyID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) CreateLog(_ context.Context, l *model.ProgressLog) error {
	if _, ok := t.st.logs[l.ID]; ok {
		return fmt.Errorf("log %s: %w", l.ID, ErrDuplicate)
	}
	for _, existing := range t.st.logs {
		if existing.CaseID == l.CaseID && existing.Seq == l.Seq {
			return fmt.Errorf("log seq %d in %s: %w", l.Seq, l.CaseID, ErrDuplicate)
		}
	}
	cp := *l
	t.st.logs[l.ID] = &cp
	return nil
}

func (t *memTx) GetLog(_ context.Context, id string) (*model.ProgressLog, error) {
	l, ok := t.st.logs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) MarkLogSuperseded(_ context.Context, id, successor string) error {
	l, ok := t.st.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.Edited = true
	l.SupersededBy = successor
	return nil
}

func (t *memTx) ListLogs(_ context.Context, caseID string) ([]*model.ProgressLog, error) {
	var out []*model.ProgressLog
	for _, l := range t.st.logs {
		if l.CaseID == caseID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (t *memTx) CreateLogVersion(_ context.Context, v *model.LogVersion) error {
	cp := *v
	t.st.versions = append(t.st.versions, &cp)
	return nil
}

func (t *memTx) ListLogVersions(_ context.Context, originID string) ([]*model.LogVersion, error) {
	var out []*model.LogVersion
	for _, v := range t.st.versions {
		if v.OriginID == originID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (t *memTx) CreateStatusChange(_ context.Context, sc *model.StatusChange) error {
	cp := *sc
	t.st.changes = append(t.st.changes, &cp)
	return nil
}

func (t *memTx) ListStatusChanges(_ context.Context, caseID string) ([]*model.StatusChange, error) {
	var out []*model.StatusChange
	for _, sc := range t.st.changes {
		if sc.CaseID == caseID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	// Insertion order breaks ties, matching the seq column of the SQL store.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (t *memTx) CreateGrant(_ context.Context, g *model.AuditGrant) error {
	cp := *g
	t.st.grants = append(t.st.grants, &cp)
	return nil
}

func (t *memTx) ActiveGrant(_ context.Context, caseID, auditorID string, now time.Time) (*model.AuditGrant, error) {
	var best *model.AuditGrant
	for _, g := range t.st.grants {
		if g.CaseID != caseID || g.AuditorID != auditorID || !g.ActiveAt(now) {
			continue
		}
		if best == nil || g.ExpiresAt.After(best.ExpiresAt) {
			best = g
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (t *memTx) ListGrants(_ context.Context, caseID string) ([]*model.AuditGrant, error) {
	var out []*model.AuditGrant
	for _, g := range t.st.grants {
		if g.CaseID == caseID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}
