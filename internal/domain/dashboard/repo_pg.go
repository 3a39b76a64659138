package dashboard

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// doctorScope matches every referral when $1 is NULL.
const doctorScope = `($1::uuid IS NULL OR doctor_id = $1)`

func (r *repoPG) Counts(ctx context.Context, doctorID *uuid.UUID) (*Counts, error) {
	var c Counts
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM patient),
			(SELECT COUNT(*) FROM referral WHERE `+doctorScope+`),
			(SELECT COUNT(*) FROM test_type),
			(SELECT COUNT(*) FROM lab),
			(SELECT COUNT(*) FROM referral WHERE lower(status) = 'completed' AND `+doctorScope+`),
			(SELECT COUNT(*) FROM referral WHERE lower(status) = 'pending' AND `+doctorScope+`)`,
		doctorID).Scan(&c.Patients, &c.Referrals, &c.Tests, &c.Labs, &c.Completed, &c.Pending)
	if err != nil {
		return nil, fmt.Errorf("dashboard counts: %w", err)
	}
	return &c, nil
}

func (r *repoPG) ReferralsByTestType(ctx context.Context, doctorID *uuid.UUID) ([]TestTypeCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT COALESCE(t.name, 'Unknown'), COUNT(*)
		FROM referral r LEFT JOIN test_type t ON t.id = r.test_type_id
		WHERE ($1::uuid IS NULL OR r.doctor_id = $1)
		GROUP BY r.test_type_id, t.name
		ORDER BY t.name`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("referrals by test type: %w", err)
	}
	defer rows.Close()
	var items []TestTypeCount
	for rows.Next() {
		var tc TestTypeCount
		if err := rows.Scan(&tc.TestType, &tc.Count); err != nil {
			return nil, err
		}
		items = append(items, tc)
	}
	return items, rows.Err()
}

func (r *repoPG) PatientRows(ctx context.Context) ([]PatientRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT gender, age, created_at FROM patient`)
	if err != nil {
		return nil, fmt.Errorf("patient registrations: %w", err)
	}
	defer rows.Close()
	var items []PatientRow
	for rows.Next() {
		var p PatientRow
		if err := rows.Scan(&p.Gender, &p.Age, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
