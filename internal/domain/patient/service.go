package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo      Repository
	referrals ReferralFinder
	logger    zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetReferralFinder wires the referral lookup used by GetDetail. The referral
// package depends on this one, so the finder is attached after construction.
func (s *Service) SetReferralFinder(f ReferralFinder) {
	s.referrals = f
}

func (s *Service) Create(ctx context.Context, req *CreateRequest, createdBy uuid.UUID) (*Patient, error) {
	p := &Patient{
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Age:            req.Age,
		Gender:         strings.TrimSpace(req.Gender),
		Contact:        strings.TrimSpace(req.Contact),
		MedicalHistory: req.MedicalHistory,
		CreatedBy:      createdBy,
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if createdBy == uuid.Nil {
		return nil, fmt.Errorf("%w: created_by is required", ErrValidation)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Str("created_by", createdBy.String()).Msg("patient created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// GetDetail returns the patient with its referrals.
func (s *Service) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Patient: p, Referrals: []*ReferralSummary{}}
	if s.referrals != nil {
		refs, err := s.referrals.ListSummariesByPatient(ctx, id)
		if err != nil {
			return nil, err
		}
		if refs != nil {
			d.Referrals = refs
		}
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies the set fields of req and persists the result.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.FirstName != nil {
		p.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		p.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Age != nil {
		p.Age = *req.Age
	}
	if req.Gender != nil {
		p.Gender = strings.TrimSpace(*req.Gender)
	}
	if req.Contact != nil {
		p.Contact = strings.TrimSpace(*req.Contact)
	}
	if req.MedicalHistory != nil {
		p.MedicalHistory = *req.MedicalHistory
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient updated")
	return p, nil
}

func validate(p *Patient) error {
	switch {
	case p.FirstName == "":
		return fmt.Errorf("%w: first_name is required", ErrValidation)
	case p.LastName == "":
		return fmt.Errorf("%w: last_name is required", ErrValidation)
	case p.Age <= 0:
		return fmt.Errorf("%w: age must be positive", ErrValidation)
	case p.Gender == "":
		return fmt.Errorf("%w: gender is required", ErrValidation)
	case p.Contact == "":
		return fmt.Errorf("%w: contact is required", ErrValidation)
	}
	return nil
}
