package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mamacare/mamacare/internal/platform/db"
)

type reminderRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reminderRepoPG{pool: pool}
}

func (r *reminderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const reminderCols = `id, patient_id, patient_name, phone, channel, type, trigger_key, severity,
	message, scheduled_for, sent, sent_at, attempts, last_error, dead_lettered_at, created_at`

func (r *reminderRepoPG) scanReminder(row pgx.Row) (*Reminder, error) {
	var m Reminder
	err := row.Scan(&m.ID, &m.PatientID, &m.PatientName, &m.Phone, &m.Channel, &m.Type, &m.TriggerKey, &m.Severity,
		&m.Message, &m.ScheduledFor, &m.Sent, &m.SentAt, &m.Attempts, &m.LastError, &m.DeadLetteredAt, &m.CreatedAt)
	return &m, err
}

func (r *reminderRepoPG) CreateIfAbsent(ctx context.Context, m *Reminder) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reminders (id, patient_id, patient_name, phone, channel, type, trigger_key, severity,
			message, scheduled_for)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (patient_id, type, trigger_key) DO NOTHING`,
		m.ID, m.PatientID, m.PatientName, m.Phone, m.Channel, m.Type, m.TriggerKey, m.Severity,
		m.Message, m.ScheduledFor)
	if err != nil {
		return false, fmt.Errorf("insert reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reminderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	m, err := r.scanReminder(r.conn(ctx).QueryRow(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return m, nil
}

func (r *reminderRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reminderCols+` FROM reminders
		WHERE NOT sent AND dead_lettered_at IS NULL AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *reminderRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*Reminder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reminders WHERE NOT sent`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending reminders: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reminderCols+` FROM reminders
		WHERE NOT sent
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *reminderRepoPG) collect(rows pgx.Rows) ([]*Reminder, error) {
	var items []*Reminder
	for rows.Next() {
		m, err := r.scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *reminderRepoPG) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminders SET sent = TRUE, sent_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1 AND NOT sent`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reminderRepoPG) RecordFailure(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, at time.Time) (bool, error) {
	var deadLettered bool
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE reminders SET
			attempts = attempts + 1,
			last_error = $2,
			dead_lettered_at = CASE WHEN $3 > 0 AND attempts + 1 >= $3 THEN $4 ELSE dead_lettered_at END
		WHERE id = $1 AND NOT sent
		RETURNING dead_lettered_at IS NOT NULL`, id, reason, maxAttempts, at).Scan(&deadLettered)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record reminder failure: %w", err)
	}
	return deadLettered, nil
}
