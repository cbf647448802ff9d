package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/events"
	"github.com/mamacare/mamacare/internal/platform/lease"
	"github.com/mamacare/mamacare/internal/platform/messaging"
)

// DispatchLeaseKey names the lock that keeps dispatcher runs from overlapping.
const DispatchLeaseKey = "reminder-dispatch"

// PreferenceLookup returns a patient's stored channel preference, or "" when
// none is recorded.
type PreferenceLookup interface {
	ChannelPreference(ctx context.Context, patientID uuid.UUID) (string, error)
}

// ResolveChannel is the first stage of channel resolution: an explicit
// reminder channel wins; "both" defers to the patient's preference when it
// names a valid channel and stays "both" otherwise.
func ResolveChannel(reminderChannel Channel, preference string) Channel {
	if reminderChannel != ChannelBoth {
		return reminderChannel
	}
	if pref, err := ParseChannel(preference); err == nil {
		return pref
	}
	return ChannelBoth
}

// ExpandChannel is the second stage: it turns a resolved channel into the
// concrete transports to attempt, in order.
func ExpandChannel(c Channel) []Channel {
	if c == ChannelBoth {
		return []Channel{ChannelWhatsApp, ChannelSMS}
	}
	return []Channel{c}
}

// DispatcherConfig holds batch and retry policy.
type DispatcherConfig struct {
	BatchSize   int
	Delay       time.Duration
	MaxAttempts int
	LeaseTTL    time.Duration
}

// DefaultDispatcherConfig returns a batch of 50 with a 500ms pause between
// messages and unbounded retries.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize: 50,
		Delay:     500 * time.Millisecond,
		LeaseTTL:  10 * time.Minute,
	}
}

// DispatchResult counts the outcome of one dispatcher run.
type DispatchResult struct {
	Processed    int  `json:"processed"`
	Sent         int  `json:"sent"`
	Failed       int  `json:"failed"`
	DeadLettered int  `json:"deadLettered"`
	Skipped      bool `json:"skipped"`
}

// Dispatcher delivers due reminders through the configured senders.
type Dispatcher struct {
	repo        Repository
	senders     map[Channel]messaging.Sender
	preferences PreferenceLookup
	locker      lease.Locker
	cfg         DispatcherConfig
	clock       clock.Clock
	publisher   events.Publisher
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher. senders maps whatsapp and sms to their
// adapters; a missing entry makes that channel fail.
func NewDispatcher(
	repo Repository,
	senders map[Channel]messaging.Sender,
	prefs PreferenceLookup,
	locker lease.Locker,
	cfg DispatcherConfig,
	clk clock.Clock,
	pub events.Publisher,
	logger zerolog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDispatcherConfig().BatchSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultDispatcherConfig().LeaseTTL
	}
	if locker == nil {
		locker = lease.NewMemoryLocker()
	}
	return &Dispatcher{
		repo:        repo,
		senders:     senders,
		preferences: prefs,
		locker:      locker,
		cfg:         cfg,
		clock:       clk,
		publisher:   pub,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes one batch of due reminders in scheduled order. A failure to
// load the batch is returned; failures of individual reminders are counted
// and never stop the batch. When another run holds the dispatch lease, Run
// does nothing and reports Skipped.
func (d *Dispatcher) Run(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult

	l, ok, err := d.locker.Acquire(ctx, DispatchLeaseKey, d.cfg.LeaseTTL)
	if err != nil {
		return res, fmt.Errorf("acquire dispatch lease: %w", err)
	}
	if !ok {
		d.logger.Info().Msg("reminder dispatch already running, skipping")
		res.Skipped = true
		return res, nil
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn().Err(err).Msg("release dispatch lease")
		}
	}()

	due, err := d.repo.ListDue(ctx, d.clock.Now(), d.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("load due reminders: %w", err)
	}

	for i, r := range due {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.Delay); err != nil {
				d.logger.Warn().Err(err).Int("remaining", len(due)-i).Msg("dispatch interrupted")
				break
			}
		}
		res.Processed++
		sent, deadLettered := d.process(ctx, r)
		switch {
		case sent:
			res.Sent++
		case deadLettered:
			res.Failed++
			res.DeadLettered++
		default:
			res.Failed++
		}
	}

	d.logger.Info().
		Int("processed", res.Processed).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("dead_lettered", res.DeadLettered).
		Msg("reminder dispatch finished")
	return res, nil
}

// process attempts one reminder. Panics are contained here so the batch
// continues.
func (d *Dispatcher) process(ctx context.Context, r *Reminder) (sent, deadLettered bool) {
	log := d.logger.With().
		Str("reminder_id", r.ID.String()).
		Str("patient_id", r.PatientID.String()).
		Logger()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("reminder delivery panicked")
			sent = false
			deadLettered = d.recordFailure(ctx, r, fmt.Sprintf("panic: %v", p), log)
		}
	}()

	// Every resolved channel is attempted; one success is enough.
	var errs []string
	delivered := false
	for _, ch := range ExpandChannel(ResolveChannel(r.Channel, d.preference(ctx, r, log))) {
		if err := d.attempt(ctx, ch, r); err != nil {
			log.Warn().Err(err).Str("channel", string(ch)).Msg("delivery attempt failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch, err))
			continue
		}
		log.Info().Str("channel", string(ch)).Msg("reminder delivered")
		delivered = true
	}
	if delivered {
		return d.markSent(ctx, r, log), false
	}
	return false, d.recordFailure(ctx, r, strings.Join(errs, "; "), log)
}

func (d *Dispatcher) preference(ctx context.Context, r *Reminder, log zerolog.Logger) string {
	if r.Channel != ChannelBoth || d.preferences == nil {
		return ""
	}
	pref, err := d.preferences.ChannelPreference(ctx, r.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("channel preference lookup failed, trying all channels")
		return ""
	}
	return pref
}

func (d *Dispatcher) attempt(ctx context.Context, ch Channel, r *Reminder) error {
	sender, ok := d.senders[ch]
	if !ok || sender == nil {
		return fmt.Errorf("no sender for channel %s: %w", ch, messaging.ErrNotConfigured)
	}
	return sender.Send(ctx, r.Phone, r.Message)
}

func (d *Dispatcher) markSent(ctx context.Context, r *Reminder, log zerolog.Logger) bool {
	now := d.clock.Now()
	updated, err := d.repo.MarkSent(ctx, r.ID, now)
	if err != nil {
		// Delivered but not recorded; it will go out again on the next run.
		log.Error().Err(err).Msg("mark reminder sent")
		return false
	}
	if !updated {
		log.Warn().Msg("reminder was already marked sent")
		return true
	}
	r.Sent = true
	r.SentAt = &now
	events.Emit(ctx, d.publisher, d.logger, events.ReminderSent, r.ID.String(), "", map[string]interface{}{
		"patient_id": r.PatientID,
		"type":       r.Type,
		"sent_at":    now,
	})
	return true
}

func (d *Dispatcher) recordFailure(ctx context.Context, r *Reminder, reason string, log zerolog.Logger) bool {
	if reason == "" {
		reason = "no channel attempted"
	}
	dead, err := d.repo.RecordFailure(ctx, r.ID, reason, d.cfg.MaxAttempts, d.clock.Now())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("record reminder failure")
		}
		return false
	}
	if dead {
		log.Warn().Int("max_attempts", d.cfg.MaxAttempts).Msg("reminder dead-lettered")
		events.Emit(ctx, d.publisher, d.logger, events.ReminderDeadLettered, r.ID.String(), "", map[string]interface{}{
			"patient_id": r.PatientID,
			"last_error": reason,
		})
	}
	return dead
}
