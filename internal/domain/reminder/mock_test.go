package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository.
type mockRepo struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*Reminder
	order     []uuid.UUID
	createErr error
	listErr   error
	markErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{reminders: make(map[uuid.UUID]*Reminder)}
}

func (m *mockRepo) CreateIfAbsent(_ context.Context, r *Reminder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return false, m.createErr
	}
	for _, existing := range m.reminders {
		if existing.PatientID == r.PatientID && existing.Type == r.Type && existing.TriggerKey == r.TriggerKey {
			return false, nil
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.reminders[r.ID] = &cp
	m.order = append(m.order, r.ID)
	return true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Reminder
	for _, id := range m.order {
		r := m.reminders[id]
		if r.Sent || r.DeadLetteredAt != nil || r.ScheduledFor.After(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) ListPending(_ context.Context, limit, offset int) ([]*Reminder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Reminder
	for _, id := range m.order {
		if r := m.reminders[id]; !r.Sent {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	r, ok := m.reminders[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Sent {
		return false, nil
	}
	r.Sent = true
	r.SentAt = &at
	return true, nil
}

func (m *mockRepo) RecordFailure(_ context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return false, ErrNotFound
	}
	r.Attempts++
	r.LastError = reason
	if maxAttempts > 0 && r.Attempts >= maxAttempts {
		r.DeadLetteredAt = &at
		return true, nil
	}
	return false, nil
}

func (m *mockRepo) get(id uuid.UUID) *Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reminders[id]
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reminders)
}

func (m *mockRepo) byType(t Type) []*Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Reminder
	for _, id := range m.order {
		if r := m.reminders[id]; r.Type == t {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

// mockSource serves fixed patient state.
type mockSource struct {
	appointments []AppointmentTarget
	medications  []MedicationTarget
	checkins     []Target
	err          error
}

func (s *mockSource) AppointmentTargets(_ context.Context, from, to time.Time) ([]AppointmentTarget, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []AppointmentTarget
	for _, a := range s.appointments {
		if a.At.After(from) && !a.At.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *mockSource) MedicationTargets(context.Context) ([]MedicationTarget, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.medications, nil
}

func (s *mockSource) CheckinTargets(context.Context) ([]Target, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.checkins, nil
}

// mockPrefs maps patients to stored channel preferences.
type mockPrefs struct {
	prefs map[uuid.UUID]string
	err   error
}

func (p *mockPrefs) ChannelPreference(_ context.Context, id uuid.UUID) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.prefs[id], nil
}

func seedReminder(repo *mockRepo, phone string, ch Channel, scheduled time.Time) *Reminder {
	r := &Reminder{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		PatientName:  "Amina Otieno",
		Phone:        phone,
		Channel:      ch,
		Type:         TypeMedication,
		TriggerKey:   fmt.Sprintf("seed:%s", phone),
		Severity:     "normal",
		Message:      "take your medication",
		ScheduledFor: scheduled,
		CreatedAt:    scheduled,
	}
	repo.CreateIfAbsent(context.Background(), r)
	return r
}
