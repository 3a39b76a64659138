package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownRole        = errors.New("unknown role")
	ErrValidation         = errors.New("validation failed")
)

// Role maps to the role table.
type Role struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User maps to the app_user table. RoleName is joined from role.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	FirstName    *string    `db:"first_name" json:"first_name,omitempty"`
	LastName     string     `db:"last_name" json:"last_name"`
	Mobile       string     `db:"mobile" json:"mobile"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	RoleID       uuid.UUID  `db:"role_id" json:"role_id"`
	RoleName     string     `db:"role_name" json:"role"`
	LabID        *uuid.UUID `db:"lab_id" json:"lab_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName is "First Last", or the last name alone.
func (u *User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" {
		return *u.FirstName + " " + u.LastName
	}
	return u.LastName
}

type RegisterRequest struct {
	FirstName *string    `json:"first_name"`
	LastName  string     `json:"last_name"`
	Mobile    string     `json:"mobile"`
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	Role      string     `json:"role"`
	LabID     *uuid.UUID `json:"lab_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
