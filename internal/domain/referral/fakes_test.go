package referral

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

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

// -- Mock Referral Repository --

type mockRepo struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*Referral
	attachErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{referrals: make(map[uuid.UUID]*Referral)}
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.referrals[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Referral, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Referral
	for _, r := range m.referrals {
		if f.DoctorID != nil && r.DoctorID != *f.DoctorID {
			continue
		}
		if f.LabID != nil && r.LabID != *f.LabID {
			continue
		}
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok || r.Status != from {
		return ErrConflict
	}
	r.Status = to
	return nil
}

func (m *mockRepo) AttachReport(_ context.Context, r *Referral, from string, meta *ReportMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	// text columns reject invalid UTF-8
	if !utf8.ValidString(meta.FileName) {
		return errors.New("invalid byte sequence for encoding \"UTF8\"")
	}
	stored, ok := m.referrals[r.ID]
	if !ok || stored.Status != from {
		return ErrConflict
	}
	now := time.Now()
	stored.Status = StatusCompleted
	stored.ReportPath = &meta.Path
	stored.ReportFileName = &meta.FileName
	stored.ReportContentType = &meta.ContentType
	stored.ReportSize = &meta.Size
	stored.ReportSHA256 = &meta.SHA256
	stored.CompletedAt = &now
	r.CompletedAt = &now
	return nil
}

func (m *mockRepo) ListSummariesByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.ReferralSummary, error) {
	items, _, _ := m.List(ctx, Filter{PatientID: &patientID})
	var out []*patient.ReferralSummary
	for _, r := range items {
		out = append(out, r.Summary())
	}
	return out, nil
}

// setStatus forces a stored referral into status, bypassing the workflow.
func (m *mockRepo) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals[id].Status = status
}

// -- Mock History Repository --

type mockHistory struct {
	mu      sync.Mutex
	entries []*HistoryEntry
	addErr  error
}

func (m *mockHistory) Add(_ context.Context, e *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	e.ID = uuid.New()
	e.ChangedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockHistory) ListByReferral(_ context.Context, referralID uuid.UUID) ([]*HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range m.entries {
		if e.ReferralID == referralID {
			out = append(out, e)
		}
	}
	return out, nil
}

// -- Fake collaborators --

type fakePatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (f *fakePatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (f *fakePatients) Update(ctx context.Context, id uuid.UUID, req *patient.UpdateRequest) (*patient.Patient, error) {
	p, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.FirstName != nil {
		p.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		p.LastName = *req.LastName
	}
	if req.MedicalHistory != nil {
		p.MedicalHistory = *req.MedicalHistory
	}
	return p, nil
}

type fakeCatalog struct {
	labs  []*lab.Lab
	types []*lab.TestType
}

func (f *fakeCatalog) GetLab(_ context.Context, id uuid.UUID) (*lab.Lab, error) {
	for _, l := range f.labs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, lab.ErrNotFound
}

func (f *fakeCatalog) ResolveLab(ctx context.Context, ref string) (*lab.Lab, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return f.GetLab(ctx, id)
	}
	for _, l := range f.labs {
		if l.Name == ref {
			return l, nil
		}
	}
	return nil, lab.ErrNotFound
}

func (f *fakeCatalog) ResolveTestType(_ context.Context, ref string) (*lab.TestType, error) {
	for _, t := range f.types {
		if t.Name == ref || t.ID.String() == ref {
			return t, nil
		}
	}
	return nil, lab.ErrTestTypeNotFound
}

type fakeDirectory struct {
	users map[uuid.UUID]*identity.User
}

func (f *fakeDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) LabTechnicianEmails(_ context.Context, labID uuid.UUID) ([]string, error) {
	var out []string
	for _, u := range f.users {
		if u.RoleName == auth.RoleLabTechnician && (u.LabID == nil || *u.LabID == labID) {
			out = append(out, u.Email)
		}
	}
	return out, nil
}

type sentNotice struct {
	template  string
	recipient string
	data      map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (f *fakeNotifier) SendFromTemplate(_ context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{template: templateID, recipient: recipient, data: data})
	return &notification.Notification{Recipient: recipient, TemplateID: templateID}, f.err
}

func (f *fakeNotifier) byTemplate(id string) []sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentNotice
	for _, n := range f.sent {
		if n.template == id {
			out = append(out, n)
		}
	}
	return out
}

type publishedEvent struct {
	event  websocket.Event
	topics []string
}

type fakeEvents struct {
	mu        sync.Mutex
	published []publishedEvent
}

func (f *fakeEvents) Publish(_ context.Context, ev websocket.Event, topics ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{event: ev, topics: topics})
}

func (f *fakeEvents) byType(eventType string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, p := range f.published {
		if p.event.Type == eventType {
			out = append(out, p)
		}
	}
	return out
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	reports     []int64
}

func (f *fakeRecorder) ReferralTransition(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+"->"+to)
}

func (f *fakeRecorder) ReportStored(_ string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, size)
}

// failingStore wraps a BlobStore and fails Open with err.
type failingStore struct {
	blobstore.BlobStore
	openErr error
}

func (f failingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, f.openErr
}

// -- Fixture --

type fixture struct {
	svc      *Service
	repo     *mockRepo
	history  *mockHistory
	blobs    *blobstore.InMemoryBlobStore
	notifier *fakeNotifier
	events   *fakeEvents
	metrics  *fakeRecorder
	patients *fakePatients
	users    *fakeDirectory

	admin, doctor, otherDoctor   Actor
	tech, otherTech, unboundTech Actor
	patientID                    uuid.UUID
	hematology, radiology        *lab.Lab
	cbc, xray                    *lab.TestType
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMockRepo(),
		history:  &mockHistory{},
		blobs:    blobstore.NewInMemoryBlobStore(1024),
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		metrics:  &fakeRecorder{},
	}

	f.hematology = &lab.Lab{ID: uuid.New(), Name: "Hematology"}
	f.radiology = &lab.Lab{ID: uuid.New(), Name: "Radiology"}
	f.cbc = &lab.TestType{ID: uuid.New(), Name: "Complete Blood Count", LabID: f.hematology.ID, LabName: "Hematology"}
	f.xray = &lab.TestType{ID: uuid.New(), Name: "Chest X-Ray", LabID: f.radiology.ID, LabName: "Radiology"}
	catalog := &fakeCatalog{labs: []*lab.Lab{f.hematology, f.radiology}, types: []*lab.TestType{f.cbc, f.xray}}

	f.users = &fakeDirectory{users: make(map[uuid.UUID]*identity.User)}
	mkUser := func(role, email string, labID *uuid.UUID) Actor {
		u := &identity.User{ID: uuid.New(), LastName: "User", Email: email, RoleName: role, LabID: labID}
		f.users.users[u.ID] = u
		return Actor{UserID: u.ID, Role: role, LabID: labID}
	}
	f.admin = mkUser(auth.RoleAdmin, "admin@example.com", nil)
	f.doctor = mkUser(auth.RoleDoctor, "doctor@example.com", nil)
	f.otherDoctor = mkUser(auth.RoleDoctor, "other-doctor@example.com", nil)
	f.tech = mkUser(auth.RoleLabTechnician, "tech@example.com", &f.hematology.ID)
	f.otherTech = mkUser(auth.RoleLabTechnician, "xray-tech@example.com", &f.radiology.ID)
	f.unboundTech = mkUser(auth.RoleLabTechnician, "floater@example.com", nil)

	f.patientID = uuid.New()
	f.patients = &fakePatients{patients: map[uuid.UUID]*patient.Patient{
		f.patientID: {ID: f.patientID, FirstName: "Jane", LastName: "Doe", Age: 40, Gender: "Female", Contact: "555"},
	}}

	f.svc = NewService(Deps{
		Referrals: f.repo,
		History:   f.history,
		Patients:  f.patients,
		Catalog:   catalog,
		Users:     f.users,
		Reports:   f.blobs,
		Tx:        db.NoopTransactor{},
		Notifier:  f.notifier,
		Events:    f.events,
		Metrics:   f.metrics,
		Logger:    zerolog.Nop(),
	})
	return f
}

// create makes a pending CBC referral owned by f.doctor.
func (f *fixture) create() *Referral {
	r, err := f.svc.Create(context.Background(), f.doctor, &CreateRequest{PatientID: f.patientID, TestType: f.cbc.Name})
	if err != nil {
		panic(err)
	}
	return r
}

var errBoom = errors.New("boom")
