package patient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamacare/mamacare/internal/domain/transfer"
	"github.com/mamacare/mamacare/internal/platform/phone"
)

type memPatients struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*Patient
	createErr error
	// raceWith, when set, is inserted by the first Create call to mimic a
	// concurrent enrollment of the same number.
	raceWith *Patient
}

func newMemPatients() *memPatients {
	return &memPatients{byID: make(map[uuid.UUID]*Patient)}
}

func (m *memPatients) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.raceWith != nil {
		cp := *m.raceWith
		m.byID[cp.ID] = &cp
		m.raceWith = nil
	}
	for _, existing := range m.byID {
		if existing.Phone == p.Phone {
			return ErrPhoneTaken
		}
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memPatients) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatients) GetByPhone(_ context.Context, n phone.Number) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Phone == n {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPatients) Rebind(_ context.Context, id uuid.UUID, from, to, toName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.FacilityID != from {
		return ErrBindingMoved
	}
	p.FacilityID = to
	p.FacilityName = toName
	return nil
}

func (m *memPatients) ChannelPreference(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return p.ChannelPreference, nil
	}
	return "", nil
}

func (m *memPatients) ListWithAppointmentBetween(_ context.Context, from, to time.Time) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.byID {
		if p.NextAppointment != nil && p.NextAppointment.After(from) && !p.NextAppointment.After(to) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPatients) ListByRisk(_ context.Context, level RiskLevel) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.byID {
		if p.RiskLevel == level {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPatients) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memMedications struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Medication
	order   []uuid.UUID
	patient *memPatients
	listErr error
}

func newMemMedications(patients *memPatients) *memMedications {
	return &memMedications{byID: make(map[uuid.UUID]*Medication), patient: patients}
}

func (m *memMedications) Create(_ context.Context, med *Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *med
	m.byID[med.ID] = &cp
	m.order = append(m.order, med.ID)
	return nil
}

func (m *memMedications) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.byID[id]
	if !ok {
		return nil, ErrMedicationNotFound
	}
	cp := *med
	return &cp, nil
}

func (m *memMedications) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Medication
	for _, id := range m.order {
		if med := m.byID[id]; med.PatientID == patientID {
			cp := *med
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memMedications) SetTaken(_ context.Context, id uuid.UUID, taken bool, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.byID[id]
	if !ok {
		return ErrMedicationNotFound
	}
	med.Taken = taken
	med.TakenAt = at
	return nil
}

func (m *memMedications) ListScheduled(ctx context.Context) ([]*ScheduledMedication, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	meds := make([]Medication, 0, len(m.order))
	for _, id := range m.order {
		meds = append(meds, *m.byID[id])
	}
	m.mu.Unlock()

	out := make([]*ScheduledMedication, 0, len(meds))
	for _, med := range meds {
		p, err := m.patient.GetByID(ctx, med.PatientID)
		if err != nil {
			continue
		}
		out = append(out, &ScheduledMedication{
			Medication:  med,
			PatientName: p.Name,
			Phone:       p.Phone.String(),
			FacilityID:  p.FacilityID,
		})
	}
	return out, nil
}

// memTransfers is a minimal transfer repository for driving the real
// transfer service from enrollment tests.
type memTransfers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*transfer.Transfer
}

func newMemTransfers() *memTransfers {
	return &memTransfers{byID: make(map[uuid.UUID]*transfer.Transfer)}
}

func (m *memTransfers) Create(_ context.Context, t *transfer.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.PatientID == t.PatientID && existing.ToFacilityID == t.ToFacilityID && existing.IsPending() {
			return transfer.ErrDuplicate
		}
	}
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTransfers) GetByID(_ context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, transfer.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTransfers) GetForUpdate(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	return m.GetByID(ctx, id)
}

func (m *memTransfers) Approve(_ context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || !t.IsPending() {
		return false, nil
	}
	t.Status = transfer.StatusApproved
	t.ApprovedBy = &by
	t.ApprovedAt = &at
	return true, nil
}

func (m *memTransfers) Reject(_ context.Context, id uuid.UUID, by, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || !t.IsPending() {
		return false, nil
	}
	t.Status = transfer.StatusRejected
	t.RejectedBy = &by
	t.RejectedAt = &at
	t.RejectionReason = &reason
	return true, nil
}

func (m *memTransfers) List(_ context.Context, f transfer.Filter) ([]*transfer.Transfer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transfer.Transfer
	for _, t := range m.byID {
		if f.FacilityID != "" && t.FromFacilityID != f.FacilityID && t.ToFacilityID != f.FacilityID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type failingIssuer struct {
	calls int
}

func (f *failingIssuer) Issue(context.Context, *Patient) error {
	f.calls++
	return errors.New("auth provider unavailable")
}
