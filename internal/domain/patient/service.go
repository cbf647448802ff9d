package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/domain/reminder"
	"github.com/mamacare/mamacare/internal/domain/schedule"
	"github.com/mamacare/mamacare/internal/domain/transfer"
	"github.com/mamacare/mamacare/internal/platform/auth"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/events"
	"github.com/mamacare/mamacare/internal/platform/phone"
)

// TransferRequester opens transfers for patients bound elsewhere.
type TransferRequester interface {
	RequestTransfer(ctx context.Context, req transfer.Request) (*transfer.Transfer, error)
}

// CredentialIssuer provisions a login for a newly enrolled patient.
type CredentialIssuer interface {
	Issue(ctx context.Context, p *Patient) error
}

type Service struct {
	patients    PatientRepository
	medications MedicationRepository
	transfers   TransferRequester
	credentials CredentialIssuer
	countryCode string
	clock       clock.Clock
	publisher   events.Publisher
	logger      zerolog.Logger
}

type Option func(*Service)

// WithCredentialIssuer runs issuer after every new enrollment.
func WithCredentialIssuer(issuer CredentialIssuer) Option {
	return func(s *Service) { s.credentials = issuer }
}

// WithCountryCode sets the calling code applied to national numbers.
func WithCountryCode(cc string) Option {
	return func(s *Service) {
		if cc != "" {
			s.countryCode = cc
		}
	}
}

func NewService(patients PatientRepository, medications MedicationRepository, transfers TransferRequester,
	clk clock.Clock, pub events.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		patients:    patients,
		medications: medications,
		transfers:   transfers,
		countryCode: phone.DefaultCountryCode,
		clock:       clk,
		publisher:   pub,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) normalize(raw string) (phone.Number, error) {
	n, err := phone.NormalizeWithCountry(raw, s.countryCode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return n, nil
}

// FindByPhone reports which facility, if any, a phone number is bound to.
func (s *Service) FindByPhone(ctx context.Context, raw string) (*Lookup, error) {
	n, err := s.normalize(raw)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByPhone(ctx, n)
	if errors.Is(err, ErrNotFound) {
		return &Lookup{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	id := p.ID
	return &Lookup{
		Exists:       true,
		PatientID:    &id,
		PatientName:  p.Name,
		FacilityID:   p.FacilityID,
		FacilityName: p.FacilityName,
	}, nil
}

// Enroll registers a patient at the caller's facility. A number already
// bound to the same facility updates that record; one bound to another
// facility opens a transfer request instead.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest, by auth.Principal) (*EnrollResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if by.FacilityID == "" {
		return nil, fmt.Errorf("%w: caller has no facility", ErrValidation)
	}
	n, err := s.normalize(req.Phone)
	if err != nil {
		return nil, err
	}
	if req.ChannelPreference != "" {
		if _, err := reminder.ParseChannel(req.ChannelPreference); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	var risk RiskLevel
	if req.RiskLevel != "" {
		if risk, err = ParseRiskLevel(req.RiskLevel); err != nil {
			return nil, err
		}
	}

	existing, err := s.patients.GetByPhone(ctx, n)
	switch {
	case errors.Is(err, ErrNotFound):
		p := &Patient{
			ID:                uuid.New(),
			Name:              req.Name,
			Phone:             n,
			FacilityID:        by.FacilityID,
			FacilityName:      by.FacilityName,
			NextAppointment:   req.NextAppointment,
			ChannelPreference: req.ChannelPreference,
			RiskLevel:         RiskLow,
		}
		if risk != "" {
			p.RiskLevel = risk
		}
		err := s.patients.Create(ctx, p)
		if err == nil {
			s.created(ctx, p)
			return &EnrollResult{Outcome: OutcomeCreated, Patient: p}, nil
		}
		if !errors.Is(err, ErrPhoneTaken) {
			return nil, err
		}
		// Another enrollment won the race; route against its binding.
		if existing, err = s.patients.GetByPhone(ctx, n); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if existing.FacilityID == by.FacilityID {
		existing.Name = req.Name
		if req.NextAppointment != nil {
			existing.NextAppointment = req.NextAppointment
		}
		if req.ChannelPreference != "" {
			existing.ChannelPreference = req.ChannelPreference
		}
		if risk != "" {
			existing.RiskLevel = risk
		}
		if err := s.patients.Update(ctx, existing); err != nil {
			return nil, err
		}
		return &EnrollResult{Outcome: OutcomeUpdated, Patient: existing}, nil
	}

	t, err := s.transfers.RequestTransfer(ctx, transfer.Request{
		PatientID:        existing.ID,
		PatientName:      existing.Name,
		PatientPhone:     existing.Phone.String(),
		FromFacilityID:   existing.FacilityID,
		FromFacilityName: existing.FacilityName,
		ToFacilityID:     by.FacilityID,
		ToFacilityName:   by.FacilityName,
		Reason:           req.TransferReason,
		RequestedBy:      by.UserID,
	})
	if err != nil {
		return nil, err
	}
	return &EnrollResult{Outcome: OutcomeTransferRequested, Transfer: t}, nil
}

func (s *Service) created(ctx context.Context, p *Patient) {
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("facility_id", p.FacilityID).
		Msg("patient enrolled")
	events.Emit(ctx, s.publisher, s.logger, events.PatientEnrolled, p.ID.String(), p.FacilityID, p)

	if s.credentials == nil {
		return
	}
	if err := s.credentials.Issue(ctx, p); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("issue patient credentials")
	}
}

// GetPatient returns a patient bound to the viewer's facility.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID, viewer auth.Principal) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsSuperAdmin() && p.FacilityID != viewer.FacilityID {
		return nil, ErrNotFound
	}
	return p, nil
}

// ScheduleAppointment sets or clears the next clinic visit.
func (s *Service) ScheduleAppointment(ctx context.Context, id uuid.UUID, at *time.Time, viewer auth.Principal) (*Patient, error) {
	p, err := s.GetPatient(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	if at != nil && !at.After(s.clock.Now()) {
		return nil, fmt.Errorf("%w: appointment must be in the future", ErrValidation)
	}
	p.NextAppointment = at
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) SetChannelPreference(ctx context.Context, id uuid.UUID, pref string, viewer auth.Principal) (*Patient, error) {
	if pref != "" {
		if _, err := reminder.ParseChannel(pref); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	p, err := s.GetPatient(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	p.ChannelPreference = pref
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddMedication validates the dose time and stores it in canonical
// "H:MM AM/PM" form.
func (s *Service) AddMedication(ctx context.Context, patientID uuid.UUID, m *Medication, viewer auth.Principal) error {
	if _, err := s.GetPatient(ctx, patientID, viewer); err != nil {
		return err
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("%w: medication name is required", ErrValidation)
	}
	hour, minute, err := schedule.ParseClockTime(m.Time)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := ParseDoseType(string(m.Type)); err != nil {
		return err
	}
	m.ID = uuid.New()
	m.PatientID = patientID
	m.Time = schedule.FormatClockTime(hour, minute)
	m.Taken = false
	m.TakenAt = nil
	return s.medications.Create(ctx, m)
}

func (s *Service) ListMedications(ctx context.Context, patientID uuid.UUID, viewer auth.Principal) ([]*Medication, error) {
	if _, err := s.GetPatient(ctx, patientID, viewer); err != nil {
		return nil, err
	}
	return s.medications.ListByPatient(ctx, patientID)
}

// MarkMedicationTaken records a dose. A taken dose suppresses its reminder
// for the rest of the day.
func (s *Service) MarkMedicationTaken(ctx context.Context, id uuid.UUID, taken bool, viewer auth.Principal) (*Medication, error) {
	m, err := s.medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetPatient(ctx, m.PatientID, viewer); err != nil {
		return nil, err
	}
	// A patient may only mark their own doses.
	if !viewer.HasRole(auth.RoleClinic) && !viewer.IsSuperAdmin() && viewer.UserID != m.PatientID.String() {
		return nil, ErrMedicationNotFound
	}
	var at *time.Time
	if taken {
		now := s.clock.Now()
		at = &now
	}
	if err := s.medications.SetTaken(ctx, id, taken, at); err != nil {
		return nil, err
	}
	m.Taken = taken
	m.TakenAt = at
	return m, nil
}
