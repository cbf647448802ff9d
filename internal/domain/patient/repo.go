package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mamacare/mamacare/internal/platform/phone"
)

var (
	ErrNotFound   = errors.New("patient not found")
	ErrValidation = errors.New("invalid patient")
	// ErrPhoneTaken is returned by Create when the phone is already bound.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrBindingMoved is returned by Rebind when the patient has already
	// left the expected facility.
	ErrBindingMoved = errors.New("patient binding has moved")
)

// ErrMedicationNotFound is returned for an unknown medication.
var ErrMedicationNotFound = errors.New("medication not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPhone(ctx context.Context, n phone.Number) (*Patient, error)
	// Rebind moves the patient's binding from one facility to another. It
	// returns ErrBindingMoved when the patient is no longer at from.
	Rebind(ctx context.Context, id uuid.UUID, from, to, toName string) error
	ChannelPreference(ctx context.Context, id uuid.UUID) (string, error)
	ListWithAppointmentBetween(ctx context.Context, from, to time.Time) ([]*Patient, error)
	ListByRisk(ctx context.Context, level RiskLevel) ([]*Patient, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medication, error)
	SetTaken(ctx context.Context, id uuid.UUID, taken bool, at *time.Time) error
	ListScheduled(ctx context.Context) ([]*ScheduledMedication, error)
}
