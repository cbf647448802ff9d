package transfer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore backs both the transfer repository and the registry so a test
// transaction can roll back the two together. Writes made inside InTx are
// journaled and undone when the transaction fails.
type memStore struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*Transfer
	bindings  map[uuid.UUID]*Binding
	rebindErr error
	// onBinding runs after every Binding read, outside the lock.
	onBinding func()
}

func newMemStore() *memStore {
	return &memStore{
		transfers: make(map[uuid.UUID]*Transfer),
		bindings:  make(map[uuid.UUID]*Binding),
	}
}

func (m *memStore) bind(name, phone, facility string) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.bindings[id] = &Binding{PatientID: id, PatientName: name, Phone: phone, FacilityID: facility, FacilityName: facility + " clinic"}
	m.mu.Unlock()
	return id
}

// transfer repository

func (m *memStore) Create(_ context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transfers {
		if existing.PatientID == t.PatientID && existing.ToFacilityID == t.ToFacilityID && existing.Status == StatusPending {
			return ErrDuplicate
		}
	}
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) Approve(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	m.journalTransfer(ctx, t)
	t.Status = StatusApproved
	t.ApprovedAt = &at
	t.ApprovedBy = &by
	return true, nil
}

func (m *memStore) Reject(ctx context.Context, id uuid.UUID, by, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	m.journalTransfer(ctx, t)
	t.Status = StatusRejected
	t.RejectedAt = &at
	t.RejectedBy = &by
	t.RejectionReason = &reason
	return true, nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]*Transfer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transfer
	for _, t := range m.transfers {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.FacilityID != "" {
			switch f.Direction {
			case DirectionIncoming:
				if t.ToFacilityID != f.FacilityID {
					continue
				}
			case DirectionOutgoing:
				if t.FromFacilityID != f.FacilityID || t.ToFacilityID == f.FacilityID {
					continue
				}
			default:
				if t.FromFacilityID != f.FacilityID && t.ToFacilityID != f.FacilityID {
					continue
				}
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset >= total {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

// registry

func (m *memStore) Binding(_ context.Context, patientID uuid.UUID) (*Binding, error) {
	m.mu.Lock()
	b, ok := m.bindings[patientID]
	var cp Binding
	if ok {
		cp = *b
	}
	hook := m.onBinding
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return nil, errors.New("patient not found")
	}
	return &cp, nil
}

func (m *memStore) Rebind(ctx context.Context, patientID uuid.UUID, from, to, toName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rebindErr != nil {
		return m.rebindErr
	}
	b, ok := m.bindings[patientID]
	if !ok {
		return errors.New("patient not found")
	}
	if b.FacilityID != from {
		return ErrStale
	}
	prev := *b
	if j := journalFrom(ctx); j != nil {
		j.add(func() { *b = prev })
	}
	b.FacilityID = to
	b.FacilityName = toName
	return nil
}

// journalTransfer records the undo for a change to t. Callers hold m.mu.
func (m *memStore) journalTransfer(ctx context.Context, t *Transfer) {
	if j := journalFrom(ctx); j != nil {
		prev := *t
		j.add(func() { *t = prev })
	}
}

type journalKey struct{}

type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) add(fn func()) {
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// memTransactor undoes the writes of a failed transaction.
type memTransactor struct {
	store *memStore
	mu    sync.Mutex
	calls int
}

func (t *memTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	j := &journal{}
	rollback := func() {
		t.store.mu.Lock()
		defer t.store.mu.Unlock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()
	return fn(context.WithValue(ctx, journalKey{}, j))
}
