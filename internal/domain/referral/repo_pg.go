package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/domain/patient"
	"github.com/medref/medref/internal/platform/db"
)

// =========== Referral Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const referralSelect = `SELECT r.id, r.patient_id, r.doctor_id, r.test_type_id, r.lab_id,
	r.status, r.urgency, r.illness, r.allergies,
	r.report_path, r.report_filename, r.report_content_type, r.report_size, r.report_sha256,
	r.completed_at, r.created_at, r.updated_at,
	p.first_name || ' ' || p.last_name, t.name, l.name,
	TRIM(COALESCE(u.first_name, '') || ' ' || u.last_name)`

const referralFrom = ` FROM referral r
	JOIN patient p ON p.id = r.patient_id
	JOIN test_type t ON t.id = r.test_type_id
	JOIN lab l ON l.id = r.lab_id
	JOIN app_user u ON u.id = r.doctor_id`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.PatientID, &r.DoctorID, &r.TestTypeID, &r.LabID,
		&r.Status, &r.Urgency, &r.Illness, &r.Allergies,
		&r.ReportPath, &r.ReportFileName, &r.ReportContentType, &r.ReportSize, &r.ReportSHA256,
		&r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
		&r.PatientName, &r.TestType, &r.LabName, &r.DoctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (rp *repoPG) Create(ctx context.Context, r *Referral) error {
	r.ID = uuid.New()
	err := db.Conn(ctx, rp.pool).QueryRow(ctx, `
		INSERT INTO referral (id, patient_id, doctor_id, test_type_id, lab_id, status, urgency, illness, allergies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		r.ID, r.PatientID, r.DoctorID, r.TestTypeID, r.LabID, r.Status, r.Urgency, r.Illness, r.Allergies).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: referenced patient, doctor, lab or test type does not exist", ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (rp *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return scanReferral(db.Conn(ctx, rp.pool).QueryRow(ctx, referralSelect+referralFrom+` WHERE r.id = $1`, id))
}

func (rp *repoPG) List(ctx context.Context, f Filter) ([]*Referral, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where += fmt.Sprintf(` AND r.doctor_id = $%d`, len(args))
	}
	if f.LabID != nil {
		args = append(args, *f.LabID)
		where += fmt.Sprintf(` AND r.lab_id = $%d`, len(args))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(` AND r.patient_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND r.status = $%d`, len(args))
	}

	var total int
	if err := db.Conn(ctx, rp.pool).QueryRow(ctx, `SELECT COUNT(*) FROM referral r`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := referralSelect + referralFrom + where +
		fmt.Sprintf(` ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := db.Conn(ctx, rp.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (rp *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := db.Conn(ctx, rp.pool).Exec(ctx,
		`UPDATE referral SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("update referral status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (rp *repoPG) AttachReport(ctx context.Context, r *Referral, from string, meta *ReportMeta) error {
	err := db.Conn(ctx, rp.pool).QueryRow(ctx, `
		UPDATE referral SET status = $3, report_path = $4, report_filename = $5,
			report_content_type = $6, report_size = $7, report_sha256 = $8,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING completed_at, updated_at`,
		r.ID, from, StatusCompleted, meta.Path, meta.FileName, meta.ContentType, meta.Size, meta.SHA256).
		Scan(&r.CompletedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("attach report: %w", err)
	}
	return nil
}

func (rp *repoPG) ListSummariesByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.ReferralSummary, error) {
	rows, err := db.Conn(ctx, rp.pool).Query(ctx,
		referralSelect+referralFrom+` WHERE r.patient_id = $1 ORDER BY r.created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient referrals: %w", err)
	}
	defer rows.Close()
	var items []*patient.ReferralSummary
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r.Summary())
	}
	return items, rows.Err()
}

// =========== History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (h *historyRepoPG) Add(ctx context.Context, e *HistoryEntry) error {
	e.ID = uuid.New()
	err := db.Conn(ctx, h.pool).QueryRow(ctx, `
		INSERT INTO referral_status_history (id, referral_id, from_status, to_status, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING changed_at`,
		e.ID, e.ReferralID, e.FromStatus, e.ToStatus, e.ChangedBy, e.Reason).Scan(&e.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (h *historyRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := db.Conn(ctx, h.pool).Query(ctx, `
		SELECT id, referral_id, from_status, to_status, changed_by, reason, changed_at
		FROM referral_status_history WHERE referral_id = $1 ORDER BY changed_at, id`, referralID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.ReferralID, &e.FromStatus, &e.ToStatus, &e.ChangedBy, &e.Reason, &e.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
