package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CatalogEntry describes a lab and the test types it performs.
type CatalogEntry struct {
	Lab       string
	Location  string
	TestTypes []string
}

// DefaultCatalog is loaded by the seed command.
var DefaultCatalog = []CatalogEntry{
	{Lab: "Hematology", Location: "Building A, Floor 1", TestTypes: []string{"Complete Blood Count", "Coagulation Panel"}},
	{Lab: "Clinical Chemistry", Location: "Building A, Floor 2", TestTypes: []string{"Lipid Panel", "Liver Function Test", "Renal Function Test"}},
	{Lab: "Radiology", Location: "Building B, Ground Floor", TestTypes: []string{"Chest X-Ray", "Abdominal Ultrasound"}},
	{Lab: "Microbiology", Location: "Building C", TestTypes: []string{"Urine Culture", "Blood Culture"}},
}

type Service struct {
	labs      LabRepository
	testTypes TestTypeRepository
	logger    zerolog.Logger
}

func NewService(labs LabRepository, testTypes TestTypeRepository, logger zerolog.Logger) *Service {
	return &Service{labs: labs, testTypes: testTypes, logger: logger}
}

func (s *Service) CreateLab(ctx context.Context, req *CreateLabRequest) (*Lab, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	l := &Lab{Name: name, Location: req.Location}
	if err := s.labs.Create(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info().Str("lab_id", l.ID.String()).Str("name", l.Name).Msg("lab created")
	return l, nil
}

func (s *Service) GetLab(ctx context.Context, id uuid.UUID) (*Lab, error) {
	return s.labs.GetByID(ctx, id)
}

// ListLabs returns every lab with its test types attached.
func (s *Service) ListLabs(ctx context.Context) ([]*Lab, error) {
	labs, err := s.labs.List(ctx)
	if err != nil {
		return nil, err
	}
	types, err := s.testTypes.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	byLab := make(map[uuid.UUID][]*TestType, len(labs))
	for _, t := range types {
		byLab[t.LabID] = append(byLab[t.LabID], t)
	}
	for _, l := range labs {
		l.TestTypes = byLab[l.ID]
	}
	return labs, nil
}

func (s *Service) CreateTestType(ctx context.Context, req *CreateTestTypeRequest) (*TestType, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	ref := req.LabID
	if ref == "" {
		ref = req.LabName
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: lab_id or lab_name is required", ErrValidation)
	}
	l, err := s.ResolveLab(ctx, ref)
	if err != nil {
		return nil, err
	}
	t := &TestType{Name: name, LabID: l.ID, LabName: l.Name}
	if err := s.testTypes.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("test_type_id", t.ID.String()).Str("lab_id", l.ID.String()).Msg("test type created")
	return t, nil
}

func (s *Service) ListTestTypes(ctx context.Context, labID *uuid.UUID) ([]*TestType, error) {
	return s.testTypes.List(ctx, labID)
}

// ResolveLab looks a lab up by id, falling back to a case-insensitive name match.
func (s *Service) ResolveLab(ctx context.Context, ref string) (*Lab, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return s.labs.GetByID(ctx, id)
	}
	return s.labs.GetByName(ctx, ref)
}

// ResolveTestType looks a test type up by id or by name.
func (s *Service) ResolveTestType(ctx context.Context, ref string) (*TestType, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return s.testTypes.GetByID(ctx, id)
	}
	return s.testTypes.GetByName(ctx, ref)
}

// EnsureCatalog creates the labs and test types in entries that do not exist yet.
func (s *Service) EnsureCatalog(ctx context.Context, entries []CatalogEntry) error {
	for _, e := range entries {
		l, err := s.labs.GetByName(ctx, e.Lab)
		if errors.Is(err, ErrNotFound) {
			req := &CreateLabRequest{Name: e.Lab}
			if e.Location != "" {
				loc := e.Location
				req.Location = &loc
			}
			l, err = s.CreateLab(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("ensure lab %s: %w", e.Lab, err)
		}
		for _, name := range e.TestTypes {
			_, err := s.testTypes.GetByName(ctx, name)
			if errors.Is(err, ErrTestTypeNotFound) {
				_, err = s.CreateTestType(ctx, &CreateTestTypeRequest{Name: name, LabID: l.ID.String()})
			}
			if err != nil {
				return fmt.Errorf("ensure test type %s: %w", name, err)
			}
		}
	}
	return nil
}
