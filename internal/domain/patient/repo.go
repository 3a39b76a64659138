package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

// ReferralFinder lists the referrals that belong to a patient.
type ReferralFinder interface {
	ListSummariesByPatient(ctx context.Context, patientID uuid.UUID) ([]*ReferralSummary, error)
}
