package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/queue"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
)

var errTxDone = errors.New("transaction already finished")

// MemoryStore keeps all state in process. Each unit and entry carries a
// lock owner; writes are staged per transaction and applied on commit.
type MemoryStore struct {
	mu   sync.Mutex
	cond *sync.Cond

	units       map[string]*resource.Unit
	entries     map[uuid.UUID]*queue.Entry
	assignments []*Assignment
	surgeries   []SurgeryRecord

	unitLocks  map[string]*memTx
	entryLocks map[uuid.UUID]*memTx
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		units:      make(map[string]*resource.Unit),
		entries:    make(map[uuid.UUID]*queue.Entry),
		unitLocks:  make(map[string]*memTx),
		entryLocks: make(map[uuid.UUID]*memTx),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Begin starts a transaction.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		s:       s,
		units:   make(map[string]resource.Unit),
		entries: make(map[uuid.UUID]queue.Entry),
		closed:  make(map[uuid.UUID]time.Time),
	}, nil
}

func (s *MemoryStore) GetUnit(_ context.Context, id string) (*resource.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, apperr.NotFound("unit %s not found", id)
	}
	c := u.Clone()
	return &c, nil
}

func (s *MemoryStore) ListUnits(_ context.Context, f UnitFilter) ([]resource.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resource.Unit, 0, len(s.units))
	for _, u := range s.units {
		if f.Category != "" && u.Category != f.Category {
			continue
		}
		if f.State != "" && u.State != f.State {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, id uuid.UUID) (*queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, apperr.NotFound("entry %s not found", id)
	}
	c := e.Clone()
	return &c, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, f EntryFilter) ([]queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.Entry, 0)
	for _, e := range s.entries {
		if f.Category != "" && e.RequiredCategory != f.Category {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e.Clone())
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, unitID string, limit, offset int) ([]Assignment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Assignment
	for i := len(s.assignments) - 1; i >= 0; i-- {
		a := s.assignments[i]
		if unitID != "" && a.UnitID != unitID {
			continue
		}
		matched = append(matched, cloneAssignment(a))
	}
	return page(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) ListSurgeryRecords(_ context.Context, limit, offset int) ([]SurgeryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]SurgeryRecord, 0, len(s.surgeries))
	for i := len(s.surgeries) - 1; i >= 0; i-- {
		recs = append(recs, s.surgeries[i])
	}
	return page(recs, limit, offset), len(recs), nil
}

func (s *MemoryStore) SeedUnits(_ context.Context, units []resource.Unit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, u := range units {
		if _, ok := s.units[u.ID]; ok {
			continue
		}
		c := u.Clone()
		s.units[u.ID] = &c
		added++
	}
	return added, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortEntries(es []queue.Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].ArrivedAt.Equal(es[j].ArrivedAt) {
			return es[i].ArrivedAt.Before(es[j].ArrivedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
}

func cloneAssignment(a *Assignment) Assignment {
	c := *a
	if a.EndedAt != nil {
		t := *a.EndedAt
		c.EndedAt = &t
	}
	return c
}

type memTx struct {
	s         *MemoryStore
	units     map[string]resource.Unit
	entries   map[uuid.UUID]queue.Entry
	opened    []Assignment
	closed    map[uuid.UUID]time.Time
	surgeries []SurgeryRecord
	done      bool
}

// unitView returns the unit as this transaction sees it. Caller holds s.mu.
func (tx *memTx) unitView(id string) (resource.Unit, bool) {
	if u, ok := tx.units[id]; ok {
		return u.Clone(), true
	}
	u, ok := tx.s.units[id]
	if !ok {
		return resource.Unit{}, false
	}
	return u.Clone(), true
}

// entryView returns the entry as this transaction sees it. Caller holds s.mu.
func (tx *memTx) entryView(id uuid.UUID) (queue.Entry, bool) {
	if e, ok := tx.entries[id]; ok {
		return e.Clone(), true
	}
	e, ok := tx.s.entries[id]
	if !ok {
		return queue.Entry{}, false
	}
	return e.Clone(), true
}

func (tx *memTx) ReserveUnit(_ context.Context, c resource.Criteria) (*resource.Unit, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return nil, errTxDone
	}

	var candidates []resource.Unit
	for id := range s.units {
		if holder := s.unitLocks[id]; holder != nil && holder != tx {
			continue
		}
		u, _ := tx.unitView(id)
		if c.Matches(&u) {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return c.Less(&candidates[i], &candidates[j])
	})
	chosen := candidates[0]
	s.unitLocks[chosen.ID] = tx
	return &chosen, nil
}

func (tx *memTx) LockUnit(ctx context.Context, id string) (*resource.Unit, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for {
		if tx.done {
			return nil, errTxDone
		}
		u, ok := tx.unitView(id)
		if !ok {
			return nil, apperr.NotFound("unit %s not found", id)
		}
		if holder := s.unitLocks[id]; holder == nil || holder == tx {
			s.unitLocks[id] = tx
			return &u, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lock unit %s: %w", id, err)
		}
		s.cond.Wait()
	}
}

func (tx *memTx) SaveUnit(_ context.Context, u *resource.Unit) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	if s.unitLocks[u.ID] != tx {
		return fmt.Errorf("save unit %s: not locked by this transaction", u.ID)
	}
	tx.units[u.ID] = u.Clone()
	return nil
}

func (tx *memTx) WaitingEntries(_ context.Context, category resource.Category) ([]queue.Entry, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return nil, errTxDone
	}
	seen := make(map[uuid.UUID]bool)
	var out []queue.Entry
	add := func(id uuid.UUID) {
		if seen[id] {
			return
		}
		seen[id] = true
		e, _ := tx.entryView(id)
		if e.Status == queue.StatusWaiting && e.RequiredCategory == category {
			out = append(out, e)
		}
	}
	for id := range tx.entries {
		add(id)
	}
	for id := range s.entries {
		add(id)
	}
	sortEntries(out)
	return out, nil
}

func (tx *memTx) LockEntry(ctx context.Context, id uuid.UUID, skipLocked bool) (*queue.Entry, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for {
		if tx.done {
			return nil, errTxDone
		}
		e, ok := tx.entryView(id)
		if !ok {
			return nil, apperr.NotFound("entry %s not found", id)
		}
		if holder := s.entryLocks[id]; holder == nil || holder == tx {
			s.entryLocks[id] = tx
			return &e, nil
		}
		if skipLocked {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lock entry %s: %w", id, err)
		}
		s.cond.Wait()
	}
}

func (tx *memTx) InsertEntry(_ context.Context, e *queue.Entry) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	if _, exists := tx.entryView(e.ID); exists {
		return apperr.Conflict("entry %s already exists", e.ID)
	}
	tx.entries[e.ID] = e.Clone()
	s.entryLocks[e.ID] = tx
	return nil
}

func (tx *memTx) SaveEntry(_ context.Context, e *queue.Entry) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	if s.entryLocks[e.ID] != tx {
		return fmt.Errorf("save entry %s: not locked by this transaction", e.ID)
	}
	tx.entries[e.ID] = e.Clone()
	return nil
}

// openAssignments lists assignments open from this transaction's view.
// Caller holds s.mu.
func (tx *memTx) openAssignments() []*Assignment {
	var out []*Assignment
	for _, a := range tx.s.assignments {
		if a.Open() {
			if _, closed := tx.closed[a.ID]; !closed {
				out = append(out, a)
			}
		}
	}
	for i := range tx.opened {
		if _, closed := tx.closed[tx.opened[i].ID]; !closed {
			out = append(out, &tx.opened[i])
		}
	}
	return out
}

func (tx *memTx) OpenAssignment(_ context.Context, a *Assignment) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	for _, open := range tx.openAssignments() {
		if open.UnitID == a.UnitID {
			return apperr.Conflict("unit %s already has an active assignment", a.UnitID)
		}
		if open.EntryID == a.EntryID {
			return apperr.Conflict("entry %s already has an active assignment", a.EntryID)
		}
	}
	tx.opened = append(tx.opened, cloneAssignment(a))
	return nil
}

func (tx *memTx) CloseAssignment(_ context.Context, unitID string, at time.Time) (*Assignment, error) {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return nil, errTxDone
	}
	for _, open := range tx.openAssignments() {
		if open.UnitID == unitID {
			tx.closed[open.ID] = at
			c := cloneAssignment(open)
			ended := at
			c.EndedAt = &ended
			return &c, nil
		}
	}
	return nil, apperr.NotFound("no active assignment on unit %s", unitID)
}

func (tx *memTx) InsertSurgeryRecord(_ context.Context, r *SurgeryRecord) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.surgeries = append(tx.surgeries, *r)
	return nil
}

func (tx *memTx) Commit(_ context.Context) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return errTxDone
	}

	for id, u := range tx.units {
		c := u
		s.units[id] = &c
	}
	for id, e := range tx.entries {
		c := e
		s.entries[id] = &c
	}
	for _, a := range s.assignments {
		if at, ok := tx.closed[a.ID]; ok {
			ended := at
			a.EndedAt = &ended
		}
	}
	for i := range tx.opened {
		a := tx.opened[i]
		if at, ok := tx.closed[a.ID]; ok {
			ended := at
			a.EndedAt = &ended
		}
		s.assignments = append(s.assignments, &a)
	}
	s.surgeries = append(s.surgeries, tx.surgeries...)

	tx.release()
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

// release drops every lock held by tx. Caller holds s.mu.
func (tx *memTx) release() {
	s := tx.s
	for id, holder := range s.unitLocks {
		if holder == tx {
			delete(s.unitLocks, id)
		}
	}
	for id, holder := range s.entryLocks {
		if holder == tx {
			delete(s.entryLocks, id)
		}
	}
	tx.done = true
	s.cond.Broadcast()
}
