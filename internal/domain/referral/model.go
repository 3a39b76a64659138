package referral

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/medref/medref/internal/domain/patient"
)

const (
	StatusPending   = "Pending"
	StatusSent      = "Sent"
	StatusCompleted = "Completed"
)

const (
	UrgencyNormal    = "normal"
	UrgencyUrgent    = "urgent"
	UrgencyEmergency = "emergency"
)

var (
	ErrNotFound          = errors.New("referral not found")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("not allowed to act on this referral")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCompleted  = errors.New("referral is already completed")
	ErrConflict          = errors.New("referral was modified concurrently")
	ErrReportMissing     = errors.New("test report not found")
	ErrIntegrity         = errors.New("stored report failed integrity check")
)

// Referral maps to the referral table. The name fields are joined from
// patient, test_type, lab and app_user.
type Referral struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID          uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	TestTypeID        uuid.UUID  `db:"test_type_id" json:"test_type_id"`
	LabID             uuid.UUID  `db:"lab_id" json:"lab_id"`
	Status            string     `db:"status" json:"status"`
	Urgency           string     `db:"urgency" json:"urgency"`
	Illness           *string    `db:"illness" json:"illness"`
	Allergies         *string    `db:"allergies" json:"allergies"`
	ReportPath        *string    `db:"report_path" json:"-"`
	ReportFileName    *string    `db:"report_filename" json:"report_filename,omitempty"`
	ReportContentType *string    `db:"report_content_type" json:"report_content_type,omitempty"`
	ReportSize        *int64     `db:"report_size" json:"report_size,omitempty"`
	ReportSHA256      *string    `db:"report_sha256" json:"report_sha256,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	PatientName string `db:"patient_name" json:"patient_name"`
	TestType    string `db:"test_type" json:"test_type"`
	LabName     string `db:"lab_name" json:"lab_name"`
	DoctorName  string `db:"doctor_name" json:"doctor_name"`
}

// HasReport reports whether a report file is attached.
func (r *Referral) HasReport() bool {
	return r.ReportPath != nil && *r.ReportPath != ""
}

// Summary converts the referral into the view embedded in patient records.
func (r *Referral) Summary() *patient.ReferralSummary {
	return &patient.ReferralSummary{
		ID:             r.ID,
		Status:         r.Status,
		Urgency:        r.Urgency,
		TestType:       r.TestType,
		LabName:        r.LabName,
		DoctorID:       r.DoctorID,
		ReportFileName: r.ReportFileName,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// HistoryEntry maps to the referral_status_history table.
type HistoryEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ReferralID uuid.UUID `db:"referral_id" json:"referral_id"`
	FromStatus *string   `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  uuid.UUID `db:"changed_by" json:"changed_by"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// CreateRequest creates a referral for a patient. TestType and Lab accept an
// id or a name. Lab defaults to the lab that performs the test type.
type CreateRequest struct {
	PatientID uuid.UUID  `json:"patient_id"`
	TestType  string     `json:"test_type"`
	Lab       string     `json:"lab"`
	Illness   *string    `json:"illness"`
	Allergies *string    `json:"allergies"`
	Urgency   string     `json:"urgency"`
	Status    string     `json:"status"`
	DoctorID  *uuid.UUID `json:"doctor_id"`
}

// UpdateAndReferRequest updates a patient and creates a referral in one step.
type UpdateAndReferRequest struct {
	patient.UpdateRequest
	TestType  string     `json:"test_type"`
	Lab       string     `json:"lab"`
	Status    string     `json:"referral_status"`
	Urgency   string     `json:"urgency"`
	Illness   *string    `json:"illness"`
	Allergies *string    `json:"allergies"`
	DoctorID  *uuid.UUID `json:"doctor_id"`
}

// HasReferral reports whether the request carries referral fields.
func (r *UpdateAndReferRequest) HasReferral() bool {
	return r.TestType != ""
}

func (r *UpdateAndReferRequest) createRequest(patientID uuid.UUID) *CreateRequest {
	return &CreateRequest{
		PatientID: patientID,
		TestType:  r.TestType,
		Lab:       r.Lab,
		Illness:   r.Illness,
		Allergies: r.Allergies,
		Urgency:   r.Urgency,
		Status:    r.Status,
		DoctorID:  r.DoctorID,
	}
}

// UpdateAndReferResult is the outcome of UpdatePatientAndRefer.
type UpdateAndReferResult struct {
	Patient  *patient.Patient `json:"patient"`
	Referral *Referral        `json:"referral,omitempty"`
}

// Filter narrows ListReferrals. Zero values are ignored.
type Filter struct {
	DoctorID  *uuid.UUID
	LabID     *uuid.UUID
	PatientID *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
	LabID  *uuid.UUID
}

// ReportUpload is a test report file received from a lab.
type ReportUpload struct {
	FileName string
	Content  io.Reader
}

// Report is a decrypted test report ready to be served.
type Report struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ReportMeta is the storage information persisted when a report is attached.
type ReportMeta struct {
	Path        string
	FileName    string
	ContentType string
	Size        int64
	SHA256      string
}
