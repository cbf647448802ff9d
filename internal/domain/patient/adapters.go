package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mamacare/mamacare/internal/domain/reminder"
	"github.com/mamacare/mamacare/internal/domain/transfer"
)

// Registry exposes the patient store as the identity registry that
// transfers rebind.
type Registry struct {
	patients PatientRepository
}

func NewRegistry(patients PatientRepository) *Registry {
	return &Registry{patients: patients}
}

func (r *Registry) Binding(ctx context.Context, patientID uuid.UUID) (*transfer.Binding, error) {
	p, err := r.patients.GetByID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, transfer.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.binding(), nil
}

func (r *Registry) Rebind(ctx context.Context, patientID uuid.UUID, from, to, toName string) error {
	err := r.patients.Rebind(ctx, patientID, from, to, toName)
	switch {
	case errors.Is(err, ErrNotFound):
		return transfer.ErrNotFound
	case errors.Is(err, ErrBindingMoved):
		return transfer.ErrStale
	}
	return err
}

// ReminderSource feeds patient state to the reminder generator.
type ReminderSource struct {
	patients    PatientRepository
	medications MedicationRepository
}

func NewReminderSource(patients PatientRepository, medications MedicationRepository) *ReminderSource {
	return &ReminderSource{patients: patients, medications: medications}
}

func target(p *Patient) reminder.Target {
	return reminder.Target{
		PatientID:   p.ID,
		PatientName: p.Name,
		Phone:       p.Phone.String(),
		FacilityID:  p.FacilityID,
	}
}

func (s *ReminderSource) AppointmentTargets(ctx context.Context, from, to time.Time) ([]reminder.AppointmentTarget, error) {
	patients, err := s.patients.ListWithAppointmentBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.AppointmentTarget, 0, len(patients))
	for _, p := range patients {
		if p.NextAppointment == nil {
			continue
		}
		out = append(out, reminder.AppointmentTarget{Target: target(p), At: *p.NextAppointment})
	}
	return out, nil
}

func (s *ReminderSource) MedicationTargets(ctx context.Context) ([]reminder.MedicationTarget, error) {
	meds, err := s.medications.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.MedicationTarget, 0, len(meds))
	for _, m := range meds {
		out = append(out, reminder.MedicationTarget{
			Target: reminder.Target{
				PatientID:   m.PatientID,
				PatientName: m.PatientName,
				Phone:       m.Phone,
				FacilityID:  m.FacilityID,
			},
			MedicationID: m.ID,
			Name:         m.Name,
			Dosage:       m.Dosage,
			Time:         m.Time,
			DoseType:     string(m.Type),
			Taken:        m.Taken,
			TakenAt:      m.TakenAt,
		})
	}
	return out, nil
}

// CheckinTargets returns high-risk patients, who get a daily symptom prompt.
func (s *ReminderSource) CheckinTargets(ctx context.Context) ([]reminder.Target, error) {
	patients, err := s.patients.ListByRisk(ctx, RiskHigh)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.Target, 0, len(patients))
	for _, p := range patients {
		out = append(out, target(p))
	}
	return out, nil
}
