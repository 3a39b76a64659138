package dashboard

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Counts(ctx context.Context, doctorID *uuid.UUID) (*Counts, error)
	ReferralsByTestType(ctx context.Context, doctorID *uuid.UUID) ([]TestTypeCount, error)
	PatientRows(ctx context.Context) ([]PatientRow, error)
}
