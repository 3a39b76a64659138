package lab

import (
	"context"

	"github.com/google/uuid"
)

type LabRepository interface {
	Create(ctx context.Context, l *Lab) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	GetByName(ctx context.Context, name string) (*Lab, error)
	List(ctx context.Context) ([]*Lab, error)
}

type TestTypeRepository interface {
	Create(ctx context.Context, t *TestType) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestType, error)
	GetByName(ctx context.Context, name string) (*TestType, error)
	List(ctx context.Context, labID *uuid.UUID) ([]*TestType, error)
}
