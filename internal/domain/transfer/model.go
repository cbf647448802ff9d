package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transfer. pending is the only
// non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Direction filters transfers relative to the viewing facility.
type Direction string

const (
	DirectionAny Direction = ""
	// DirectionIncoming lists transfers into the viewer's facility.
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing lists transfers where the viewer is not the destination.
	DirectionOutgoing Direction = "outgoing"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionAny, DirectionIncoming, DirectionOutgoing:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrValidation, s)
}

// Transfer is a request to move a patient's authoritative binding from one
// facility to another.
type Transfer struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patientId"`
	PatientName      string     `json:"patientName"`
	PatientPhone     string     `json:"patientPhone"`
	FromFacilityID   string     `json:"fromFacilityId"`
	FromFacilityName string     `json:"fromFacilityName"`
	ToFacilityID     string     `json:"toFacilityId"`
	ToFacilityName   string     `json:"toFacilityName"`
	Reason           string     `json:"reason"`
	Status           Status     `json:"status"`
	RequestedBy      string     `json:"requestedBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy       *string    `json:"approvedBy,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy       *string    `json:"rejectedBy,omitempty"`
	RejectionReason  *string    `json:"rejectionReason,omitempty"`
}

func (t *Transfer) IsPending() bool {
	return t.Status == StatusPending
}

// Request asks for a patient to be moved to ToFacilityID. Patient and source
// facility details left empty are filled from the registry.
type Request struct {
	PatientID        uuid.UUID `json:"patientId"`
	PatientName      string    `json:"patientName,omitempty"`
	PatientPhone     string    `json:"patientPhone,omitempty"`
	FromFacilityID   string    `json:"fromFacilityId,omitempty"`
	FromFacilityName string    `json:"fromFacilityName,omitempty"`
	ToFacilityID     string    `json:"toFacilityId"`
	ToFacilityName   string    `json:"toFacilityName,omitempty"`
	Reason           string    `json:"reason"`
	RequestedBy      string    `json:"-"`
}

// Filter selects transfers for listing. An empty FacilityID lists every
// facility's transfers and is only valid with DirectionAny.
type Filter struct {
	Status     Status
	Direction  Direction
	FacilityID string
	Limit      int
	Offset     int
}

// Binding is a patient's current authoritative facility.
type Binding struct {
	PatientID    uuid.UUID
	PatientName  string
	Phone        string
	FacilityID   string
	FacilityName string
}
