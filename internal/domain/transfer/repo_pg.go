package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mamacare/mamacare/internal/platform/db"
)

const uniqueViolation = "23505"

type transferRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &transferRepoPG{pool: pool}
}

func (r *transferRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const transferCols = `id, patient_id, patient_name, patient_phone, from_facility_id, from_facility_name,
	to_facility_id, to_facility_name, reason, status, requested_by, created_at,
	approved_at, approved_by, rejected_at, rejected_by, rejection_reason`

func (r *transferRepoPG) scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.PatientID, &t.PatientName, &t.PatientPhone, &t.FromFacilityID, &t.FromFacilityName,
		&t.ToFacilityID, &t.ToFacilityName, &t.Reason, &t.Status, &t.RequestedBy, &t.CreatedAt,
		&t.ApprovedAt, &t.ApprovedBy, &t.RejectedAt, &t.RejectedBy, &t.RejectionReason)
	return &t, err
}

func (r *transferRepoPG) Create(ctx context.Context, t *Transfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_transfers (id, patient_id, patient_name, patient_phone, from_facility_id,
			from_facility_name, to_facility_id, to_facility_name, reason, status, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		t.ID, t.PatientID, t.PatientName, t.PatientPhone, t.FromFacilityID,
		t.FromFacilityName, t.ToFacilityID, t.ToFacilityName, t.Reason, t.Status, t.RequestedBy,
	).Scan(&t.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (r *transferRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Transfer, error) {
	q := `SELECT ` + transferCols + ` FROM patient_transfers WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	t, err := r.scanTransfer(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

func (r *transferRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return r.get(ctx, id, false)
}

func (r *transferRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return r.get(ctx, id, true)
}

func (r *transferRepoPG) Approve(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_transfers SET status = 'approved', approved_at = $2, approved_by = $3
		WHERE id = $1 AND status = 'pending'`, id, at, by)
	if err != nil {
		return false, fmt.Errorf("approve transfer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transferRepoPG) Reject(ctx context.Context, id uuid.UUID, by, reason string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_transfers SET status = 'rejected', rejected_at = $2, rejected_by = $3, rejection_reason = $4
		WHERE id = $1 AND status = 'pending'`, id, at, by, reason)
	if err != nil {
		return false, fmt.Errorf("reject transfer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transferRepoPG) List(ctx context.Context, f Filter) ([]*Transfer, int, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.FacilityID != "" {
		p := arg(f.FacilityID)
		switch f.Direction {
		case DirectionIncoming:
			where = append(where, "to_facility_id = "+p)
		case DirectionOutgoing:
			where = append(where, "from_facility_id = "+p+" AND to_facility_id <> "+p)
		default:
			where = append(where, "(from_facility_id = "+p+" OR to_facility_id = "+p+")")
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_transfers`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	q := `SELECT ` + transferCols + ` FROM patient_transfers` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		t, err := r.scanTransfer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}
