package lab

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("lab not found")
	ErrTestTypeNotFound = errors.New("test type not found")
	ErrDuplicate        = errors.New("name already exists")
	ErrValidation       = errors.New("validation failed")
)

// Lab maps to the lab table.
type Lab struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Location  *string     `db:"location" json:"location,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	TestTypes []*TestType `db:"-" json:"test_types,omitempty"`
}

// TestType maps to the test_type table. LabName is joined from lab.
type TestType struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	LabID     uuid.UUID `db:"lab_id" json:"lab_id"`
	LabName   string    `db:"lab_name" json:"lab_name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type CreateLabRequest struct {
	Name     string  `json:"name"`
	Location *string `json:"location"`
}

// CreateTestTypeRequest accepts the lab by id or by name.
type CreateTestTypeRequest struct {
	Name    string `json:"name"`
	LabID   string `json:"lab_id"`
	LabName string `json:"lab_name"`
}
