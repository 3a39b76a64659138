package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

// =========== Lab Repository ===========

type labRepoPG struct{ pool *pgxpool.Pool }

func NewLabRepoPG(pool *pgxpool.Pool) LabRepository {
	return &labRepoPG{pool: pool}
}

const labCols = `id, name, location, created_at`

func scanLab(row pgx.Row) (*Lab, error) {
	var l Lab
	err := row.Scan(&l.ID, &l.Name, &l.Location, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &l, err
}

func (r *labRepoPG) Create(ctx context.Context, l *Lab) error {
	l.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO lab (id, name, location) VALUES ($1, $2, $3) RETURNING created_at`,
		l.ID, l.Name, l.Location).Scan(&l.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: lab %q", ErrDuplicate, l.Name)
	}
	if err != nil {
		return fmt.Errorf("insert lab: %w", err)
	}
	return nil
}

func (r *labRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return scanLab(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+labCols+` FROM lab WHERE id = $1`, id))
}

func (r *labRepoPG) GetByName(ctx context.Context, name string) (*Lab, error) {
	return scanLab(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+labCols+` FROM lab WHERE lower(name) = lower($1)`, strings.TrimSpace(name)))
}

func (r *labRepoPG) List(ctx context.Context) ([]*Lab, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+labCols+` FROM lab ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	defer rows.Close()
	var items []*Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// =========== TestType Repository ===========

type testTypeRepoPG struct{ pool *pgxpool.Pool }

func NewTestTypeRepoPG(pool *pgxpool.Pool) TestTypeRepository {
	return &testTypeRepoPG{pool: pool}
}

const testTypeSelect = `SELECT t.id, t.name, t.lab_id, l.name, t.created_at
	FROM test_type t JOIN lab l ON l.id = t.lab_id`

func scanTestType(row pgx.Row) (*TestType, error) {
	var t TestType
	err := row.Scan(&t.ID, &t.Name, &t.LabID, &t.LabName, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTestTypeNotFound
	}
	return &t, err
}

func (r *testTypeRepoPG) Create(ctx context.Context, t *TestType) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO test_type (id, name, lab_id) VALUES ($1, $2, $3) RETURNING created_at`,
		t.ID, t.Name, t.LabID).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: test type %q", ErrDuplicate, t.Name)
	}
	if db.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert test type: %w", err)
	}
	return nil
}

func (r *testTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestType, error) {
	return scanTestType(db.Conn(ctx, r.pool).QueryRow(ctx, testTypeSelect+` WHERE t.id = $1`, id))
}

func (r *testTypeRepoPG) GetByName(ctx context.Context, name string) (*TestType, error) {
	return scanTestType(db.Conn(ctx, r.pool).QueryRow(ctx,
		testTypeSelect+` WHERE lower(t.name) = lower($1)`, strings.TrimSpace(name)))
}

func (r *testTypeRepoPG) List(ctx context.Context, labID *uuid.UUID) ([]*TestType, error) {
	query := testTypeSelect
	var args []interface{}
	if labID != nil {
		query += ` WHERE t.lab_id = $1`
		args = append(args, *labID)
	}
	query += ` ORDER BY t.name`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list test types: %w", err)
	}
	defer rows.Close()
	var items []*TestType
	for rows.Next() {
		t, err := scanTestType(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
