package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	Timezone           string `mapstructure:"TIMEZONE"`
	DefaultCountryCode string `mapstructure:"DEFAULT_COUNTRY_CODE"`

	WhatsAppAccessToken   string `mapstructure:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAPIURL        string `mapstructure:"WHATSAPP_API_URL"`
	SMSAPIKey             string `mapstructure:"SMS_API_KEY"`
	SMSUsername           string `mapstructure:"SMS_USERNAME"`
	SMSSenderID           string `mapstructure:"SMS_SENDER_ID"`
	SMSAPIURL             string `mapstructure:"SMS_API_URL"`

	CronSecret string `mapstructure:"CRON_SECRET"`

	DispatchBatchSize   int           `mapstructure:"DISPATCH_BATCH_SIZE"`
	DispatchDelay       time.Duration `mapstructure:"DISPATCH_DELAY"`
	DispatchMaxAttempts int           `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchLeaseTTL    time.Duration `mapstructure:"DISPATCH_LEASE_TTL"`

	ReminderDefaultChannel string        `mapstructure:"REMINDER_DEFAULT_CHANNEL"`
	AppointmentLookahead   time.Duration `mapstructure:"APPOINTMENT_LOOKAHEAD"`
	MedicationWindow       time.Duration `mapstructure:"MEDICATION_WINDOW"`
	CheckinHour            int           `mapstructure:"CHECKIN_HOUR"`

	SchedulerEnabled  bool          `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerInterval time.Duration `mapstructure:"SCHEDULER_INTERVAL"`

	RedisURL string `mapstructure:"REDIS_URL"`

	EventsBackend string `mapstructure:"EVENTS_BACKEND"`
	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string `mapstructure:"KAFKA_TOPIC"`
	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	RabbitMQQueue string `mapstructure:"RABBITMQ_QUEUE"`
}

var defaults = map[string]interface{}{
	"PORT":                     "8000",
	"ENV":                      "development",
	"DB_MAX_CONNS":             20,
	"DB_MIN_CONNS":             2,
	"CORS_ORIGINS":             "http://localhost:3000",
	"RATE_LIMIT_RPS":           50,
	"RATE_LIMIT_BURST":         100,
	"REQUEST_TIMEOUT":          "30s",
	"TIMEZONE":                 "Africa/Nairobi",
	"DEFAULT_COUNTRY_CODE":     "254",
	"WHATSAPP_API_URL":         "https://graph.facebook.com/v18.0",
	"SMS_API_URL":              "https://api.africastalking.com/version1/messaging",
	"DISPATCH_BATCH_SIZE":      50,
	"DISPATCH_DELAY":           "500ms",
	"DISPATCH_MAX_ATTEMPTS":    0,
	"DISPATCH_LEASE_TTL":       "10m",
	"REMINDER_DEFAULT_CHANNEL": "both",
	"APPOINTMENT_LOOKAHEAD":    "24h",
	"MEDICATION_WINDOW":        "2h",
	"CHECKIN_HOUR":             9,
	"SCHEDULER_ENABLED":        false,
	"SCHEDULER_INTERVAL":       "15m",
	"EVENTS_BACKEND":           "log",
	"KAFKA_TOPIC":              "mamacare.events",
	"RABBITMQ_QUEUE":           "mamacare.events",
}

// Keys without a default that still need to be read from the environment.
var unsetKeys = []string{
	"DATABASE_URL",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"WHATSAPP_ACCESS_TOKEN",
	"WHATSAPP_PHONE_NUMBER_ID",
	"SMS_API_KEY",
	"SMS_USERNAME",
	"SMS_SENDER_ID",
	"CRON_SECRET",
	"REDIS_URL",
	"KAFKA_BROKERS",
	"RABBITMQ_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
		v.BindEnv(k)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range unsetKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location loads TIMEZONE. Reminder days and clock times are read in it.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WhatsAppConfigured reports whether both WhatsApp credentials are present.
func (c *Config) WhatsAppConfigured() bool {
	return c.WhatsAppAccessToken != "" && c.WhatsAppPhoneNumberID != ""
}

// SMSConfigured reports whether the SMS credentials are present.
func (c *Config) SMSConfigured() bool {
	return c.SMSAPIKey != "" && c.SMSUsername != ""
}

// Validate checks that the configuration is safe to run. Missing messaging
// credentials are not an error: sends through that channel fail at runtime.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q. "+
			"Refusing to start without authentication configuration", c.Env)
	}

	switch c.EventsBackend {
	case "", "log":
	case "kafka":
		if c.KafkaBrokers == "" {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND is kafka")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EVENTS_BACKEND is rabbitmq")
		}
	default:
		return fmt.Errorf("EVENTS_BACKEND must be \"log\", \"kafka\" or \"rabbitmq\", got %q", c.EventsBackend)
	}

	switch c.ReminderDefaultChannel {
	case "whatsapp", "sms", "both":
	default:
		return fmt.Errorf("REMINDER_DEFAULT_CHANNEL must be \"whatsapp\", \"sms\" or \"both\", got %q", c.ReminderDefaultChannel)
	}

	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.DispatchBatchSize)
	}
	if c.DispatchMaxAttempts < 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must not be negative, got %d", c.DispatchMaxAttempts)
	}
	if c.CheckinHour < 0 || c.CheckinHour > 23 {
		return fmt.Errorf("CHECKIN_HOUR must be between 0 and 23, got %d", c.CheckinHour)
	}

	durations := map[string]time.Duration{
		"REQUEST_TIMEOUT":       c.RequestTimeout,
		"DISPATCH_DELAY":        c.DispatchDelay,
		"DISPATCH_LEASE_TTL":    c.DispatchLeaseTTL,
		"APPOINTMENT_LOOKAHEAD": c.AppointmentLookahead,
		"MEDICATION_WINDOW":     c.MedicationWindow,
		"SCHEDULER_INTERVAL":    c.SchedulerInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive when SCHEDULER_ENABLED is true")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
