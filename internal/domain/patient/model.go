package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("patient not found")
	ErrValidation = errors.New("validation failed")
)

// Patient maps to the patient table.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Age            int       `db:"age" json:"age"`
	Gender         string    `db:"gender" json:"gender"`
	Contact        string    `db:"contact" json:"contact"`
	MedicalHistory string    `db:"medical_history" json:"medical_history"`
	CreatedBy      uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ReferralSummary is the referral view embedded in a patient record.
type ReferralSummary struct {
	ID             uuid.UUID  `json:"id"`
	Status         string     `json:"status"`
	Urgency        string     `json:"urgency"`
	TestType       string     `json:"test_type"`
	LabName        string     `json:"lab_name"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	ReportFileName *string    `json:"report_filename,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Detail is a patient together with its referrals.
type Detail struct {
	*Patient
	Referrals []*ReferralSummary `json:"referrals"`
}

type CreateRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Contact        string `json:"contact"`
	MedicalHistory string `json:"medical_history"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Age            *int    `json:"age"`
	Gender         *string `json:"gender"`
	Contact        *string `json:"contact"`
	MedicalHistory *string `json:"medical_history"`
}

// Empty reports whether the request changes nothing.
func (r *UpdateRequest) Empty() bool {
	return r.FirstName == nil && r.LastName == nil && r.Age == nil &&
		r.Gender == nil && r.Contact == nil && r.MedicalHistory == nil
}
