package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mamacare/mamacare/internal/platform/db"
	"github.com/mamacare/mamacare/internal/platform/phone"
)

const uniqueViolation = "23505"

// -- Patient Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, phone, facility_id, facility_name, next_appointment,
	channel_preference, risk_level, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.FacilityID, &p.FacilityName, &p.NextAppointment,
		&p.ChannelPreference, &p.RiskLevel, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, name, phone, facility_id, facility_name, next_appointment,
			channel_preference, risk_level)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.FacilityID, p.FacilityName, p.NextAppointment,
		p.ChannelPreference, p.RiskLevel,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrPhoneTaken
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET name = $2, next_appointment = $3, channel_preference = $4,
			risk_level = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.NextAppointment, p.ChannelPreference, p.RiskLevel,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByPhone(ctx context.Context, n phone.Number) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = $1`, n))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient by phone: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Rebind(ctx context.Context, id uuid.UUID, from, to, toName string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET facility_id = $3, facility_name = $4, updated_at = NOW()
		WHERE id = $1 AND facility_id = $2`, id, from, to, toName)
	if err != nil {
		return fmt.Errorf("rebind patient: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrBindingMoved
}

func (r *patientRepoPG) ChannelPreference(ctx context.Context, id uuid.UUID) (string, error) {
	var pref string
	err := r.conn(ctx).QueryRow(ctx, `SELECT channel_preference FROM patients WHERE id = $1`, id).Scan(&pref)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get channel preference: %w", err)
	}
	return pref, nil
}

func (r *patientRepoPG) ListWithAppointmentBetween(ctx context.Context, from, to time.Time) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE next_appointment > $1 AND next_appointment <= $2
		ORDER BY next_appointment`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *patientRepoPG) ListByRisk(ctx context.Context, level RiskLevel) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE risk_level = $1 ORDER BY created_at`, level)
	if err != nil {
		return nil, fmt.Errorf("list patients by risk: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *patientRepoPG) collect(rows pgx.Rows) ([]*Patient, error) {
	var out []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Medication Repository --

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medCols = `id, patient_id, name, dosage, dose_time, dose_type, taken, taken_at, created_at`

func (r *medicationRepoPG) scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Time, &m.Type, &m.Taken, &m.TakenAt, &m.CreatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medications (id, patient_id, name, dosage, dose_time, dose_type)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.Time, m.Type,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	return nil
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	m, err := r.scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications
		WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()
	var out []*Medication
	for rows.Next() {
		m, err := r.scanMed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *medicationRepoPG) SetTaken(ctx context.Context, id uuid.UUID, taken bool, at *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE medications SET taken = $2, taken_at = $3 WHERE id = $1`, id, taken, at)
	if err != nil {
		return fmt.Errorf("update medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicationNotFound
	}
	return nil
}

func (r *medicationRepoPG) ListScheduled(ctx context.Context) ([]*ScheduledMedication, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.patient_id, m.name, m.dosage, m.dose_time, m.dose_type, m.taken, m.taken_at, m.created_at,
			p.name, p.phone, p.facility_id
		FROM medications m
		JOIN patients p ON p.id = m.patient_id
		ORDER BY m.patient_id, m.dose_time`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled medications: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledMedication
	for rows.Next() {
		var s ScheduledMedication
		if err := rows.Scan(&s.ID, &s.PatientID, &s.Name, &s.Dosage, &s.Time, &s.Type, &s.Taken, &s.TakenAt, &s.CreatedAt,
			&s.PatientName, &s.Phone, &s.FacilityID); err != nil {
			return nil, fmt.Errorf("scan scheduled medication: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
