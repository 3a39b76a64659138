package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/auth"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID, role, labID string) (string, time.Time, error)
}

// DefaultRoles are created by the seed command.
var DefaultRoles = []string{auth.RoleAdmin, auth.RoleDoctor, auth.RoleLabTechnician}

const minPasswordLen = 8

type Service struct {
	roles  RoleRepository
	users  UserRepository
	tokens TokenIssuer
	logger zerolog.Logger
}

func NewService(roles RoleRepository, users UserRepository, tokens TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{roles: roles, users: users, tokens: tokens, logger: logger}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.LastName = strings.TrimSpace(req.LastName)
	switch {
	case req.LastName == "":
		return nil, fmt.Errorf("%w: last_name is required", ErrValidation)
	case req.Mobile == "":
		return nil, fmt.Errorf("%w: mobile is required", ErrValidation)
	case req.Email == "":
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	case len(req.Password) < minPasswordLen:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	case req.Role == "":
		return nil, fmt.Errorf("%w: role is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	role, err := s.roles.GetByName(ctx, req.Role)
	if err != nil {
		return nil, err
	}
	if req.LabID != nil && role.Name != auth.RoleLabTechnician {
		return nil, fmt.Errorf("%w: only lab technicians can be bound to a lab", ErrValidation)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Mobile:       req.Mobile,
		Email:        req.Email,
		PasswordHash: hash,
		RoleID:       role.ID,
		RoleName:     role.Name,
		LabID:        req.LabID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.RoleName).Msg("user registered")
	return u, nil
}

// Login returns ErrNotFound for an unknown email and ErrInvalidCredentials
// for a wrong password.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn().Str("user_id", u.ID.String()).Msg("login failed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	labID := ""
	if u.LabID != nil {
		labID = u.LabID.String()
	}
	token, exp, err := s.tokens.Issue(u.ID.String(), u.RoleName, labID)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, role, limit, offset)
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.List(ctx)
}

// EnsureRoles creates any missing default role.
func (s *Service) EnsureRoles(ctx context.Context) error {
	for _, name := range DefaultRoles {
		if err := s.roles.Create(ctx, &Role{Name: name}); err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return nil
}

// LabTechnicianEmails lists technicians serving labID, including unbound ones.
func (s *Service) LabTechnicianEmails(ctx context.Context, labID uuid.UUID) ([]string, error) {
	return s.users.ListEmailsByRoleAndLab(ctx, auth.RoleLabTechnician, labID)
}
