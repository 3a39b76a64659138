package referral

import (
	"context"

	"github.com/google/uuid"

	"github.com/medref/medref/internal/domain/patient"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	List(ctx context.Context, f Filter) ([]*Referral, int, error)
	// UpdateStatus moves the referral to status to only if it is still in
	// status from. It returns ErrConflict otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error
	// AttachReport stores the report and completes the referral only if it is
	// still in status from. It returns ErrConflict otherwise.
	AttachReport(ctx context.Context, r *Referral, from string, meta *ReportMeta) error
	ListSummariesByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.ReferralSummary, error)
}

type HistoryRepository interface {
	Add(ctx context.Context, h *HistoryEntry) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*HistoryEntry, error)
}
