package identity

import (
	"context"

	"github.com/google/uuid"
)

type RoleRepository interface {
	Create(ctx context.Context, r *Role) error
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	ListEmailsByRoleAndLab(ctx context.Context, role string, labID uuid.UUID) ([]string, error)
}
