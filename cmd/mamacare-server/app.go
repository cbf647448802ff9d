package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/config"
	"github.com/mamacare/mamacare/internal/domain/patient"
	"github.com/mamacare/mamacare/internal/domain/reminder"
	"github.com/mamacare/mamacare/internal/domain/transfer"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/db"
	"github.com/mamacare/mamacare/internal/platform/events"
	"github.com/mamacare/mamacare/internal/platform/lease"
	"github.com/mamacare/mamacare/internal/platform/messaging"
)

// app holds the wired services shared by serve and the one-shot commands.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher events.Publisher

	reminders *reminder.Service
	transfers *transfer.Service
	patients  *patient.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defaultChannel, err := reminder.ParseChannel(cfg.ReminderDefaultChannel)
	if err != nil {
		return nil, fmt.Errorf("REMINDER_DEFAULT_CHANNEL: %w", err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "mamacare",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, pool: pool}

	a.publisher, err = events.Open(events.Options{
		Backend:      cfg.EventsBackend,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		RabbitURL:    cfg.RabbitMQURL,
		RabbitQueue:  cfg.RabbitMQQueue,
	}, logger.With().Str("component", "events").Logger())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open events publisher: %w", err)
	}

	var locker lease.Locker = lease.NewMemoryLocker()
	if cfg.RedisURL != "" {
		a.redis, err = lease.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = lease.NewRedisLocker(a.redis)
	}

	senderLog := logger.With().Str("component", "messaging").Logger()
	whatsapp := messaging.NewWhatsAppSender(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID,
		messaging.WithBaseURL(cfg.WhatsAppAPIURL), messaging.WithLogger(senderLog))
	sms := messaging.NewSMSSender(cfg.SMSAPIKey, cfg.SMSUsername, cfg.SMSSenderID,
		messaging.WithBaseURL(cfg.SMSAPIURL), messaging.WithLogger(senderLog))
	senders := map[reminder.Channel]messaging.Sender{
		reminder.ChannelWhatsApp: whatsapp,
		reminder.ChannelSMS:      sms,
	}
	if !whatsapp.Configured() {
		if cfg.IsDev() {
			logger.Info().Msg("WhatsApp credentials missing; using mock sender")
			senders[reminder.ChannelWhatsApp] = messaging.NewMockSender()
		} else {
			logger.Warn().Msg("WhatsApp credentials missing; WhatsApp sends will fail")
		}
	}
	if !sms.Configured() {
		if cfg.IsDev() {
			logger.Info().Msg("SMS credentials missing; using mock sender")
			senders[reminder.ChannelSMS] = messaging.NewMockSender()
		} else {
			logger.Warn().Msg("SMS credentials missing; SMS sends will fail")
		}
	}

	clk := clock.New()
	patientRepo := patient.NewPatientRepoPG(pool)
	medicationRepo := patient.NewMedicationRepoPG(pool)
	reminderRepo := reminder.NewRepoPG(pool)

	a.transfers = transfer.NewService(transfer.NewRepoPG(pool), patient.NewRegistry(patientRepo),
		db.NewTransactor(pool), clk, a.publisher, logger.With().Str("component", "transfer").Logger())

	a.patients = patient.NewService(patientRepo, medicationRepo, a.transfers, clk, a.publisher,
		logger.With().Str("component", "patient").Logger(), patient.WithCountryCode(cfg.DefaultCountryCode))

	generator := reminder.NewGenerator(reminderRepo, patient.NewReminderSource(patientRepo, medicationRepo),
		reminder.GeneratorConfig{
			Location:             loc,
			AppointmentLookahead: cfg.AppointmentLookahead,
			MedicationWindow:     cfg.MedicationWindow,
			CheckinHour:          cfg.CheckinHour,
			DefaultChannel:       defaultChannel,
		}, clk, a.publisher, logger.With().Str("component", "reminder.generator").Logger())

	dispatcher := reminder.NewDispatcher(reminderRepo, senders, patientRepo, locker,
		reminder.DispatcherConfig{
			BatchSize:   cfg.DispatchBatchSize,
			Delay:       cfg.DispatchDelay,
			MaxAttempts: cfg.DispatchMaxAttempts,
			LeaseTTL:    cfg.DispatchLeaseTTL,
		}, clk, a.publisher, logger.With().Str("component", "reminder.dispatcher").Logger())

	a.reminders = reminder.NewService(reminderRepo, generator, dispatcher, logger.With().Str("component", "reminder").Logger())
	return a, nil
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
