package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mamacare/mamacare/internal/domain/transfer"
	"github.com/mamacare/mamacare/internal/platform/phone"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(s); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	case "":
		return RiskLow, nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrValidation, s)
}

type DoseType string

const (
	DoseMorning   DoseType = "morning"
	DoseAfternoon DoseType = "afternoon"
	DoseEvening   DoseType = "evening"
)

func ParseDoseType(s string) (DoseType, error) {
	switch d := DoseType(s); d {
	case DoseMorning, DoseAfternoon, DoseEvening:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown dose type %q", ErrValidation, s)
}

// Patient is an enrolled mother. Phone is unique across facilities: the
// record's FacilityID is the one authoritative binding for that number.
type Patient struct {
	ID                uuid.UUID    `json:"id"`
	Name              string       `json:"name"`
	Phone             phone.Number `json:"phone"`
	FacilityID        string       `json:"facilityId"`
	FacilityName      string       `json:"facilityName"`
	NextAppointment   *time.Time   `json:"nextAppointment,omitempty"`
	ChannelPreference string       `json:"channelPreference,omitempty"`
	RiskLevel         RiskLevel    `json:"riskLevel"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

func (p *Patient) binding() *transfer.Binding {
	return &transfer.Binding{
		PatientID:    p.ID,
		PatientName:  p.Name,
		Phone:        p.Phone.String(),
		FacilityID:   p.FacilityID,
		FacilityName: p.FacilityName,
	}
}

type Medication struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patientId"`
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Time      string     `json:"time"`
	Type      DoseType   `json:"type"`
	Taken     bool       `json:"taken"`
	TakenAt   *time.Time `json:"takenAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ScheduledMedication is a medication joined with its patient, as read by
// the reminder generator.
type ScheduledMedication struct {
	Medication
	PatientName string
	Phone       string
	FacilityID  string
}

// Lookup is the result of a registry lookup by phone. Absence is reported
// with Exists false.
type Lookup struct {
	Exists       bool       `json:"exists"`
	PatientID    *uuid.UUID `json:"patientId,omitempty"`
	PatientName  string     `json:"patientName,omitempty"`
	FacilityID   string     `json:"facilityId,omitempty"`
	FacilityName string     `json:"facilityName,omitempty"`
}

// EnrollRequest registers a patient at the caller's facility.
type EnrollRequest struct {
	Name              string     `json:"name"`
	Phone             string     `json:"phone"`
	NextAppointment   *time.Time `json:"nextAppointment,omitempty"`
	ChannelPreference string     `json:"channelPreference,omitempty"`
	RiskLevel         string     `json:"riskLevel,omitempty"`
	// TransferReason is used when the phone is bound to another facility.
	TransferReason string `json:"transferReason,omitempty"`
}

type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeUpdated           Outcome = "updated"
	OutcomeTransferRequested Outcome = "transfer_requested"
)

type EnrollResult struct {
	Outcome  Outcome            `json:"outcome"`
	Patient  *Patient           `json:"patient,omitempty"`
	Transfer *transfer.Transfer `json:"transfer,omitempty"`
}
