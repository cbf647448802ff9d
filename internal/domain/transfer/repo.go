package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("transfer not found")
	ErrNotPending = errors.New("transfer is not pending")
	ErrForbidden  = errors.New("only the source facility may decide this transfer")
	ErrDuplicate  = errors.New("a pending transfer already exists for this patient and facility")
	ErrValidation = errors.New("invalid transfer")
)

// ErrStale is returned when the patient has moved since the request was made.
var ErrStale = errors.New("patient is no longer bound to the source facility")

type Repository interface {
	// Create stores a pending transfer. It returns ErrDuplicate when one is
	// already pending for the same patient and destination.
	Create(ctx context.Context, t *Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	// GetForUpdate loads a transfer and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error)
	// Approve and Reject only change a pending transfer. They report false
	// when the transfer was no longer pending.
	Approve(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, by, reason string, at time.Time) (bool, error)
	List(ctx context.Context, f Filter) ([]*Transfer, int, error)
}

// Registry is the patient identity registry a transfer rebinds.
type Registry interface {
	Binding(ctx context.Context, patientID uuid.UUID) (*Binding, error)
	// Rebind moves the patient from one facility to another. It returns
	// ErrStale when the patient is no longer bound to from.
	Rebind(ctx context.Context, patientID uuid.UUID, from, to, toName string) error
}
