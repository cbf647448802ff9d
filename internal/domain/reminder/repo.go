package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reminder does not exist.
var ErrNotFound = errors.New("reminder not found")

// Repository persists reminders.
type Repository interface {
	// CreateIfAbsent inserts r unless a reminder with the same patient, type
	// and trigger key exists. It reports whether a row was written.
	CreateIfAbsent(ctx context.Context, r *Reminder) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error)
	// ListDue returns unsent, live reminders scheduled at or before now,
	// oldest first, at most limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	ListPending(ctx context.Context, limit, offset int) ([]*Reminder, int, error)
	// MarkSent flips an unsent reminder to sent. It reports false when the
	// reminder was already sent.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// RecordFailure counts a failed attempt. When maxAttempts is positive and
	// reached, the reminder is dead-lettered and true is returned.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error)
}
