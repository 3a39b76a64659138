package referral

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/domain/lab"
	"github.com/medref/medref/internal/domain/patient"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/internal/platform/notification"
	"github.com/medref/medref/internal/platform/websocket"
)

// PatientStore is the patient access the referral workflow needs.
type PatientStore interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	Update(ctx context.Context, id uuid.UUID, req *patient.UpdateRequest) (*patient.Patient, error)
}

// Catalog resolves labs and test types.
type Catalog interface {
	GetLab(ctx context.Context, id uuid.UUID) (*lab.Lab, error)
	ResolveLab(ctx context.Context, ref string) (*lab.Lab, error)
	ResolveTestType(ctx context.Context, ref string) (*lab.TestType, error)
}

// Directory looks up users and notification recipients.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	LabTechnicianEmails(ctx context.Context, labID uuid.UUID) ([]string, error)
}

// Notifier dispatches templated notifications.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// EventPublisher pushes referral changes to connected clients.
type EventPublisher interface {
	Publish(ctx context.Context, ev websocket.Event, topics ...string)
}

// Recorder observes workflow outcomes.
type Recorder interface {
	ReferralTransition(from, to string)
	ReportStored(contentType string, size int64)
}

// Deps groups the collaborators of Service.
type Deps struct {
	Referrals Repository
	History   HistoryRepository
	Patients  PatientStore
	Catalog   Catalog
	Users     Directory
	Reports   blobstore.BlobStore
	Tx        db.Transactor
	Notifier  Notifier
	Events    EventPublisher
	Metrics   Recorder
	Logger    zerolog.Logger
}

type Service struct {
	repo     Repository
	history  HistoryRepository
	patients PatientStore
	catalog  Catalog
	users    Directory
	reports  blobstore.BlobStore
	tx       db.Transactor
	notifier Notifier
	events   EventPublisher
	metrics  Recorder
	logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	tx := d.Tx
	if tx == nil {
		tx = db.NoopTransactor{}
	}
	return &Service{
		repo:     d.Referrals,
		history:  d.History,
		patients: d.Patients,
		catalog:  d.Catalog,
		users:    d.Users,
		reports:  d.Reports,
		tx:       tx,
		notifier: d.Notifier,
		events:   d.Events,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Create validates the request and stores a new referral with its initial
// history entry.
func (s *Service) Create(ctx context.Context, actor Actor, req *CreateRequest) (*Referral, error) {
	var r *Referral
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.create(ctx, actor, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe("", r.Status)
	s.notifyLab(ctx, notification.TemplateReferralCreated, r)
	return r, nil
}

// UpdatePatientAndRefer applies the patient changes and creates the referral
// in a single transaction.
func (s *Service) UpdatePatientAndRefer(ctx context.Context, actor Actor, patientID uuid.UUID, req *UpdateAndReferRequest) (*UpdateAndReferResult, error) {
	if !auth.HasRole([]string{actor.Role}, auth.RoleDoctor) {
		return nil, fmt.Errorf("%w: only doctors can refer patients", ErrForbidden)
	}
	res := &UpdateAndReferResult{}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if req.UpdateRequest.Empty() {
			res.Patient, err = s.patients.Get(ctx, patientID)
		} else {
			res.Patient, err = s.patients.Update(ctx, patientID, &req.UpdateRequest)
		}
		if err != nil {
			return err
		}
		res.Referral, err = s.create(ctx, actor, req.createRequest(patientID))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe("", res.Referral.Status)
	s.notifyLab(ctx, notification.TemplateReferralCreated, res.Referral)
	return res, nil
}

func (s *Service) create(ctx context.Context, actor Actor, req *CreateRequest) (*Referral, error) {
	if !auth.HasRole([]string{actor.Role}, auth.RoleDoctor) {
		return nil, fmt.Errorf("%w: only doctors can create referrals", ErrForbidden)
	}
	doctorID := actor.UserID
	if req.DoctorID != nil && *req.DoctorID != actor.UserID {
		if actor.Role != auth.RoleAdmin {
			return nil, fmt.Errorf("%w: doctors can only refer on their own behalf", ErrForbidden)
		}
		doctorID = *req.DoctorID
	}
	if req.TestType == "" {
		return nil, fmt.Errorf("%w: test_type is required", ErrValidation)
	}

	status := StatusPending
	if req.Status != "" {
		var ok bool
		status, ok = NormalizeStatus(req.Status)
		if !ok || status == StatusCompleted {
			return nil, fmt.Errorf("%w: status must be %s or %s", ErrValidation, StatusPending, StatusSent)
		}
	}
	urgency, ok := NormalizeUrgency(req.Urgency)
	if !ok {
		return nil, fmt.Errorf("%w: urgency must be %s, %s or %s", ErrValidation, UrgencyNormal, UrgencyUrgent, UrgencyEmergency)
	}

	doctor, err := s.users.GetUser(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("resolve doctor: %w", err)
	}
	if doctor.RoleName != auth.RoleDoctor && doctor.RoleName != auth.RoleAdmin {
		return nil, fmt.Errorf("%w: user %s is not a doctor", ErrValidation, doctorID)
	}

	p, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	tt, err := s.catalog.ResolveTestType(ctx, req.TestType)
	if errors.Is(err, lab.ErrTestTypeNotFound) {
		return nil, fmt.Errorf("%w: invalid test type %q", ErrValidation, req.TestType)
	}
	if err != nil {
		return nil, err
	}

	var l *lab.Lab
	if req.Lab != "" {
		l, err = s.catalog.ResolveLab(ctx, req.Lab)
	} else {
		l, err = s.catalog.GetLab(ctx, tt.LabID)
	}
	if err != nil {
		return nil, err
	}
	if tt.LabID != l.ID {
		return nil, fmt.Errorf("%w: test type %q is not offered by lab %q", ErrValidation, tt.Name, l.Name)
	}

	r := &Referral{
		PatientID:   p.ID,
		DoctorID:    doctor.ID,
		TestTypeID:  tt.ID,
		LabID:       l.ID,
		Status:      status,
		Urgency:     urgency,
		Illness:     nonEmpty(req.Illness),
		Allergies:   nonEmpty(req.Allergies),
		PatientName: p.FirstName + " " + p.LastName,
		TestType:    tt.Name,
		LabName:     l.Name,
		DoctorName:  doctor.DisplayName(),
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.record(ctx, r.ID, nil, status, actor.UserID, "referral created"); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("referral_id", r.ID.String()).
		Str("patient_id", p.ID.String()).
		Str("doctor_id", doctor.ID.String()).
		Str("lab_id", l.ID.String()).
		Str("status", status).
		Str("urgency", urgency).
		Msg("referral created")
	return r, nil
}

// Send moves a pending referral to Sent.
func (s *Service) Send(ctx context.Context, actor Actor, id uuid.UUID) (*Referral, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(r.Status, StatusSent); err != nil {
		return nil, err
	}
	if !CanTransition(actor.Role, r.Status, StatusSent) {
		return nil, fmt.Errorf("%w: role %s cannot send referrals", ErrForbidden, actor.Role)
	}

	from := r.Status
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, r.ID, from, StatusSent); err != nil {
			return err
		}
		return s.record(ctx, r.ID, &from, StatusSent, actor.UserID, "referral sent to lab")
	})
	if err != nil {
		return nil, err
	}
	r.Status = StatusSent
	s.logger.Info().Str("referral_id", r.ID.String()).Str("from", from).Str("to", StatusSent).Msg("referral status changed")
	s.observe(from, StatusSent)
	s.notifyLab(ctx, notification.TemplateReferralSent, r)
	return r, nil
}

// AttachReport stores an uploaded report and completes the referral. The
// stored blob is removed again when the database update fails.
func (s *Service) AttachReport(ctx context.Context, actor Actor, id uuid.UUID, upload *ReportUpload) (*Referral, error) {
	if !auth.HasRole([]string{actor.Role}, auth.RoleLabTechnician) {
		return nil, fmt.Errorf("%w: only lab technicians can upload reports", ErrForbidden)
	}
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if err := ValidateTransition(r.Status, StatusCompleted); err != nil {
		return nil, err
	}
	if !CanTransition(actor.Role, r.Status, StatusCompleted) {
		return nil, fmt.Errorf("%w: role %s cannot complete referrals", ErrForbidden, actor.Role)
	}

	meta, err := s.reports.Put(ctx, upload.FileName, upload.Content)
	if err != nil {
		return nil, err
	}

	from := r.Status
	rm := &ReportMeta{
		Path:        meta.Key,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		SHA256:      meta.SHA256,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.AttachReport(ctx, r, from, rm); err != nil {
			return err
		}
		return s.record(ctx, r.ID, &from, StatusCompleted, actor.UserID, "test report uploaded: "+meta.FileName)
	})
	if err != nil {
		if delErr := s.reports.Delete(context.WithoutCancel(ctx), meta.Key); delErr != nil {
			s.logger.Error().Err(delErr).Str("referral_id", r.ID.String()).Str("key", meta.Key).
				Msg("failed to remove orphaned report")
		}
		return nil, err
	}

	r.Status = StatusCompleted
	r.ReportPath = &rm.Path
	r.ReportFileName = &rm.FileName
	r.ReportContentType = &rm.ContentType
	r.ReportSize = &rm.Size
	r.ReportSHA256 = &rm.SHA256
	s.logger.Info().
		Str("referral_id", r.ID.String()).
		Str("from", from).
		Str("to", StatusCompleted).
		Str("content_type", rm.ContentType).
		Int64("size", rm.Size).
		Msg("test report attached")
	s.observe(from, StatusCompleted)
	if s.metrics != nil {
		s.metrics.ReportStored(rm.ContentType, rm.Size)
	}
	s.notifyDoctor(ctx, r)
	return r, nil
}

// GetReport returns the decrypted report after verifying its checksum.
func (s *Service) GetReport(ctx context.Context, actor Actor, id uuid.UUID) (*Report, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.readReport(ctx, r)
}

func (s *Service) readReport(ctx context.Context, r *Referral) (*Report, error) {
	if !r.HasReport() {
		return nil, ErrReportMissing
	}
	rc, err := s.reports.Open(ctx, *r.ReportPath)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Str("referral_id", r.ID.String()).Msg("report file missing from store")
		return nil, ErrReportMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if r.ReportSHA256 != nil && *r.ReportSHA256 != "" && blobstore.HashHex(data) != *r.ReportSHA256 {
		s.logger.Error().Str("referral_id", r.ID.String()).Msg("report checksum mismatch")
		return nil, ErrIntegrity
	}

	rep := &Report{FileName: "report", ContentType: "application/pdf", Data: data}
	if r.ReportFileName != nil && *r.ReportFileName != "" {
		rep.FileName = *r.ReportFileName
	}
	if r.ReportContentType != nil && *r.ReportContentType != "" {
		rep.ContentType = *r.ReportContentType
	}
	return rep, nil
}

// Get returns the referral if actor may see it.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List scopes the filter to what actor may see. Doctors only see their own
// referrals and bound lab technicians only see their lab's.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]*Referral, int, error) {
	if f.Status != "" {
		status, ok := NormalizeStatus(f.Status)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
		}
		f.Status = status
	}
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleDoctor:
		if f.DoctorID != nil && *f.DoctorID != actor.UserID {
			return nil, 0, fmt.Errorf("%w: doctors can only list their own referrals", ErrForbidden)
		}
		f.DoctorID = &actor.UserID
	case auth.RoleLabTechnician:
		if actor.LabID != nil {
			if f.LabID != nil && *f.LabID != *actor.LabID {
				return nil, 0, fmt.Errorf("%w: lab technicians can only list their lab's referrals", ErrForbidden)
			}
			f.LabID = actor.LabID
		}
	default:
		return nil, 0, ErrForbidden
	}
	return s.repo.List(ctx, f)
}

// ListForLab lists the referrals assigned to labID.
func (s *Service) ListForLab(ctx context.Context, actor Actor, labID uuid.UUID, f Filter) ([]*Referral, int, error) {
	if _, err := s.catalog.GetLab(ctx, labID); err != nil {
		return nil, 0, err
	}
	f.LabID = &labID
	return s.List(ctx, actor, f)
}

// GetForLab returns the referral only when it is assigned to labID.
func (s *Service) GetForLab(ctx context.Context, actor Actor, labID, id uuid.UUID) (*Referral, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if r.LabID != labID {
		return nil, ErrNotFound
	}
	return r, nil
}

// GetReportForLab is GetReport restricted to referrals assigned to labID.
func (s *Service) GetReportForLab(ctx context.Context, actor Actor, labID, id uuid.UUID) (*Report, error) {
	r, err := s.GetForLab(ctx, actor, labID, id)
	if err != nil {
		return nil, err
	}
	return s.readReport(ctx, r)
}

// History returns the status changes of a referral, oldest first.
func (s *Service) History(ctx context.Context, actor Actor, id uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.history.ListByReferral(ctx, id)
}

// ListSummariesByPatient implements patient.ReferralFinder.
func (s *Service) ListSummariesByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.ReferralSummary, error) {
	return s.repo.ListSummariesByPatient(ctx, patientID)
}

func (s *Service) record(ctx context.Context, referralID uuid.UUID, from *string, to string, by uuid.UUID, reason string) error {
	return s.history.Add(ctx, &HistoryEntry{
		ReferralID: referralID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  by,
		Reason:     &reason,
	})
}

// checkAccess enforces per-referral visibility.
func checkAccess(actor Actor, r *Referral) error {
	switch actor.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleDoctor:
		if r.DoctorID == actor.UserID {
			return nil
		}
	case auth.RoleLabTechnician:
		if actor.LabID == nil || *actor.LabID == r.LabID {
			return nil
		}
	}
	return ErrForbidden
}

func (s *Service) notifyLab(ctx context.Context, templateID string, r *Referral) {
	eventType := websocket.EventReferralCreated
	if templateID == notification.TemplateReferralSent {
		eventType = websocket.EventReferralSent
	}
	s.publish(ctx, eventType, r,
		websocket.UserTopic(r.DoctorID.String()), websocket.LabTopic(r.LabID.String()),
		websocket.TopicAllLabs, websocket.TopicAdmin)

	if s.notifier == nil {
		return
	}
	recipients, err := s.users.LabTechnicianEmails(ctx, r.LabID)
	if err != nil {
		s.logger.Warn().Err(err).Str("referral_id", r.ID.String()).Msg("failed to resolve lab recipients")
		return
	}
	for _, to := range recipients {
		s.send(ctx, templateID, r, to)
	}
}

func (s *Service) notifyDoctor(ctx context.Context, r *Referral) {
	s.publish(ctx, websocket.EventReportUploaded, r,
		websocket.UserTopic(r.DoctorID.String()), websocket.LabTopic(r.LabID.String()),
		websocket.TopicAllLabs, websocket.TopicAdmin)

	if s.notifier == nil {
		return
	}
	doctor, err := s.users.GetUser(ctx, r.DoctorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("referral_id", r.ID.String()).Msg("failed to resolve referring doctor")
		return
	}
	s.send(ctx, notification.TemplateReportReady, r, doctor.Email)
}

func (s *Service) observe(from, to string) {
	if s.metrics != nil {
		s.metrics.ReferralTransition(from, to)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, r *Referral, topics ...string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, websocket.Event{
		Type:       eventType,
		ReferralID: r.ID.String(),
		PatientID:  r.PatientID.String(),
		LabID:      r.LabID.String(),
		Status:     r.Status,
		Urgency:    r.Urgency,
	}, topics...)
}

func (s *Service) send(ctx context.Context, templateID string, r *Referral, to string) {
	data := map[string]string{
		"referral_id":  r.ID.String(),
		"status":       r.Status,
		"urgency":      r.Urgency,
		"test_type":    r.TestType,
		"lab_name":     r.LabName,
		"patient_name": r.PatientName,
		"doctor_name":  r.DoctorName,
	}
	if _, err := s.notifier.SendFromTemplate(ctx, templateID, data, to); err != nil {
		s.logger.Warn().Err(err).Str("referral_id", r.ID.String()).Str("template", templateID).Msg("notification failed")
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// UpdatePatient updates patient fields without creating a referral.
func (s *Service) UpdatePatient(ctx context.Context, patientID uuid.UUID, req *patient.UpdateRequest) (*UpdateAndReferResult, error) {
	if req.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	p, err := s.patients.Update(ctx, patientID, req)
	if err != nil {
		return nil, err
	}
	return &UpdateAndReferResult{Patient: p}, nil
}
