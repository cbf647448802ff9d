package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/domain/schedule"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/events"
)

// Target identifies who a reminder goes to.
type Target struct {
	PatientID   uuid.UUID
	PatientName string
	Phone       string
	FacilityID  string
}

// AppointmentTarget is a patient with an upcoming appointment.
type AppointmentTarget struct {
	Target
	At time.Time
}

// MedicationTarget is one medication on a patient's schedule.
type MedicationTarget struct {
	Target
	MedicationID uuid.UUID
	Name         string
	Dosage       string
	Time         string
	DoseType     string
	Taken        bool
	TakenAt      *time.Time
}

// Source supplies the patient state reminders are derived from.
type Source interface {
	AppointmentTargets(ctx context.Context, from, to time.Time) ([]AppointmentTarget, error)
	MedicationTargets(ctx context.Context) ([]MedicationTarget, error)
	CheckinTargets(ctx context.Context) ([]Target, error)
}

// GeneratorConfig holds the generation policy.
type GeneratorConfig struct {
	Location             *time.Location
	AppointmentLookahead time.Duration
	MedicationWindow     time.Duration
	CheckinHour          int
	DefaultChannel       Channel
}

// DefaultGeneratorConfig returns the standard policy: 24h appointment
// look-ahead, a 2h medication window and a 9 AM check-in.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Location:             time.UTC,
		AppointmentLookahead: 24 * time.Hour,
		MedicationWindow:     2 * time.Hour,
		CheckinHour:          9,
		DefaultChannel:       ChannelBoth,
	}
}

// GenerateResult counts the outcome of one generator pass.
type GenerateResult struct {
	Appointments int `json:"appointments"`
	Medications  int `json:"medications"`
	Checkins     int `json:"checkins"`
	Existing     int `json:"existing"`
	Invalid      int `json:"invalid"`
	Failed       int `json:"failed"`
}

// Created is the number of reminders written in the pass.
func (r GenerateResult) Created() int {
	return r.Appointments + r.Medications + r.Checkins
}

// Generator materializes due reminders from patient state. Every pass is
// idempotent: a reminder already stored for the same trigger is never
// written again.
type Generator struct {
	repo      Repository
	source    Source
	cfg       GeneratorConfig
	clock     clock.Clock
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(repo Repository, source Source, cfg GeneratorConfig, clk clock.Clock, pub events.Publisher, logger zerolog.Logger) *Generator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = ChannelBoth
	}
	return &Generator{
		repo:      repo,
		source:    source,
		cfg:       cfg,
		clock:     clk,
		publisher: pub,
		logger:    logger,
	}
}

// Generate runs one pass. Failing to read patient state aborts the pass;
// a bad item or a failed insert only skips that item.
func (g *Generator) Generate(ctx context.Context) (GenerateResult, error) {
	var res GenerateResult
	now := g.clock.Now().In(g.cfg.Location)

	appts, err := g.source.AppointmentTargets(ctx, now, now.Add(g.cfg.AppointmentLookahead))
	if err != nil {
		return res, fmt.Errorf("load appointments: %w", err)
	}
	meds, err := g.source.MedicationTargets(ctx)
	if err != nil {
		return res, fmt.Errorf("load medications: %w", err)
	}
	checkins, err := g.source.CheckinTargets(ctx)
	if err != nil {
		return res, fmt.Errorf("load check-in patients: %w", err)
	}

	for _, a := range appts {
		if r := g.appointmentReminder(now, a); r != nil {
			g.store(ctx, r, &res.Appointments, &res)
		}
	}
	for _, m := range meds {
		r, err := g.medicationReminder(now, m)
		if err != nil {
			res.Invalid++
			g.logger.Warn().Err(err).
				Str("patient_id", m.PatientID.String()).
				Str("medication_id", m.MedicationID.String()).
				Msg("skipping medication with unparseable time")
			continue
		}
		if r != nil {
			g.store(ctx, r, &res.Medications, &res)
		}
	}
	for _, c := range checkins {
		if r := g.checkinReminder(now, c); r != nil {
			g.store(ctx, r, &res.Checkins, &res)
		}
	}

	g.logger.Info().
		Int("appointments", res.Appointments).
		Int("medications", res.Medications).
		Int("checkins", res.Checkins).
		Int("existing", res.Existing).
		Int("invalid", res.Invalid).
		Int("failed", res.Failed).
		Msg("reminder generation finished")
	return res, nil
}

func (g *Generator) store(ctx context.Context, r *Reminder, counter *int, res *GenerateResult) {
	created, err := g.repo.CreateIfAbsent(ctx, r)
	if err != nil {
		res.Failed++
		g.logger.Error().Err(err).
			Str("patient_id", r.PatientID.String()).
			Str("trigger_key", r.TriggerKey).
			Msg("store reminder")
		return
	}
	if !created {
		res.Existing++
		return
	}
	*counter++
	events.Emit(ctx, g.publisher, g.logger, events.ReminderCreated, r.ID.String(), "", map[string]interface{}{
		"patient_id":    r.PatientID,
		"type":          r.Type,
		"scheduled_for": r.ScheduledFor,
	})
}

func (g *Generator) appointmentReminder(now time.Time, a AppointmentTarget) *Reminder {
	at := a.At.In(g.cfg.Location)
	if !schedule.AppointmentDue(now, at, g.cfg.AppointmentLookahead) {
		return nil
	}
	severity := schedule.SeverityFor(now, at)
	msg := fmt.Sprintf("Hello %s, this is a reminder of your clinic appointment %s. Please remember to bring your clinic card.",
		FirstName(a.PatientName), schedule.TimeUntil(now, at))
	if severity == schedule.SeverityUrgent {
		msg = "URGENT: " + msg
	}
	return g.newReminder(a.Target, TypeAppointment, AppointmentKey(schedule.DayKey(at)), severity, msg, now)
}

func (g *Generator) medicationReminder(now time.Time, m MedicationTarget) (*Reminder, error) {
	hour, minute, err := schedule.ParseClockTime(m.Time)
	if err != nil {
		return nil, err
	}
	due := schedule.Occurrence(now, hour, minute)
	if due.After(now) {
		// A late-evening dose window can run past midnight.
		due = due.AddDate(0, 0, -1)
	}
	if !schedule.InWindow(now, due, g.cfg.MedicationWindow) || takenFor(m, due) {
		return nil, nil
	}

	dose := m.Name
	if m.Dosage != "" {
		dose = fmt.Sprintf("%s (%s)", m.Name, m.Dosage)
	}
	msg := fmt.Sprintf("Hi %s, it is time for your %s dose of %s, scheduled for %s. Please take it and mark it as taken.",
		FirstName(m.PatientName), m.DoseType, dose, schedule.FormatClockTime(hour, minute))
	return g.newReminder(m.Target, TypeMedication, MedicationKey(m.MedicationID, schedule.DayKey(due)), schedule.SeverityNormal, msg, due), nil
}

func (g *Generator) checkinReminder(now time.Time, t Target) *Reminder {
	start := schedule.Occurrence(now, g.cfg.CheckinHour, 0)
	if !schedule.InWindow(now, start, g.cfg.MedicationWindow) {
		return nil
	}
	msg := fmt.Sprintf("Good morning %s, how are you feeling today? Reply if you have headaches, swelling, bleeding or reduced baby movement, or visit your clinic.",
		FirstName(t.PatientName))
	return g.newReminder(t, TypeSymptomCheckin, CheckinKey(schedule.DayKey(start)), schedule.SeverityNormal, msg, start)
}

func (g *Generator) newReminder(t Target, typ Type, key, severity, msg string, at time.Time) *Reminder {
	return &Reminder{
		ID:           uuid.New(),
		PatientID:    t.PatientID,
		PatientName:  t.PatientName,
		Phone:        t.Phone,
		Channel:      g.cfg.DefaultChannel,
		Type:         typ,
		TriggerKey:   key,
		Severity:     severity,
		Message:      msg,
		ScheduledFor: at,
		CreatedAt:    g.clock.Now(),
	}
}

// takenFor reports whether the dose due at due has been taken. A taken flag
// stamped on an earlier day belongs to an earlier dose.
func takenFor(m MedicationTarget, due time.Time) bool {
	if !m.Taken {
		return false
	}
	if m.TakenAt == nil {
		return true
	}
	return schedule.DayKey(m.TakenAt.In(due.Location())) == schedule.DayKey(due)
}

// FirstName returns the first word of a full name.
func FirstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
