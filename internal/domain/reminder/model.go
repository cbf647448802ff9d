package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel is the transport a reminder targets.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	// ChannelBoth defers the choice to send time.
	ChannelBoth Channel = "both"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelWhatsApp, ChannelSMS, ChannelBoth:
		return c, nil
	}
	return "", fmt.Errorf("invalid channel: %q", s)
}

// Type is the clinical event a reminder is about.
type Type string

const (
	TypeAppointment    Type = "appointment"
	TypeMedication     Type = "medication"
	TypeSymptomCheckin Type = "symptom_checkin"
)

// Reminder is a single-fire patient notification. Target details are copied
// in at creation so that delivery does not depend on the patient record.
type Reminder struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patientId"`
	PatientName    string     `json:"patientName"`
	Phone          string     `json:"phone"`
	Channel        Channel    `json:"channel"`
	Type           Type       `json:"type"`
	TriggerKey     string     `json:"triggerKey"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	ScheduledFor   time.Time  `json:"scheduledFor"`
	Sent           bool       `json:"sent"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	DeadLetteredAt *time.Time `json:"deadLetteredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// AppointmentKey buckets appointment reminders by appointment date.
func AppointmentKey(day string) string {
	return "appointment:" + day
}

// MedicationKey buckets medication reminders by medication and dose day.
func MedicationKey(medicationID uuid.UUID, day string) string {
	return "medication:" + medicationID.String() + ":" + day
}

// CheckinKey buckets symptom check-ins by day.
func CheckinKey(day string) string {
	return "symptom_checkin:" + day
}
