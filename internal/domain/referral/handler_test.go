package referral

import (
	"context"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
)

func withActor(req *http.Request, a Actor) *http.Request {
	labID := ""
	if a.LabID != nil {
		labID = a.LabID.String()
	}
	return req.WithContext(auth.WithIdentity(req.Context(), a.UserID.String(), a.Role, labID))
}

func newCtx(e *echo.Echo, req *http.Request, names []string, values []string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()
	return &buf, w.FormDataContentType()
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError with %d, got %T (%v)", code, err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func TestHandler_Create(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"test_type":"Complete Blood Count","urgency":"urgent","illness":"fatigue"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := newCtx(e, withActor(req, f.doctor), []string{"id"}, []string{f.patientID.String()})

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var r Referral
	json.Unmarshal(rec.Body.Bytes(), &r)
	if r.Status != StatusPending || r.Urgency != UrgencyUrgent || r.PatientID != f.patientID {
		t.Errorf("unexpected referral %+v", r)
	}
	if strings.Contains(rec.Body.String(), "report_path") {
		t.Error("expected storage path to stay internal")
	}
}

func TestHandler_Create_InvalidTestType(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"test_type":"MRI"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, _ := newCtx(e, withActor(req, f.doctor), []string{"id"}, []string{f.patientID.String()})
	expectStatus(t, h.Create(c), http.StatusBadRequest)
}

func TestHandler_Create_UnknownPatient(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"test_type":"Complete Blood Count"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, _ := newCtx(e, withActor(req, f.doctor), []string{"id"}, []string{uuid.NewString()})
	expectStatus(t, h.Create(c), http.StatusNotFound)
}

func TestHandler_Unauthenticated(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	c, _ := newCtx(e, httptest.NewRequest(http.MethodGet, "/", nil), []string{"id"}, []string{uuid.NewString()})
	expectStatus(t, h.Get(c), http.StatusUnauthorized)
}

func TestHandler_UpdatePatient_WithReferral(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"first_name":"Janet","medical_history":"diabetes","test_type":"Chest X-Ray","lab":"Radiology","referral_status":"Sent"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := newCtx(e, withActor(req, f.doctor), []string{"id"}, []string{f.patientID.String()})

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res struct {
		Patient  map[string]interface{} `json:"patient"`
		Referral *Referral              `json:"referral"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Patient["first_name"] != "Janet" {
		t.Errorf("expected patient to be updated, got %v", res.Patient)
	}
	if res.Referral == nil || res.Referral.Status != StatusSent || res.Referral.LabID != f.radiology.ID {
		t.Errorf("expected Sent radiology referral, got %+v", res.Referral)
	}
}

func TestHandler_UpdatePatient_Only(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"last_name":"Smith"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c, rec := newCtx(e, withActor(req, f.admin), []string{"id"}, []string{f.patientID.String()})

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), `"referral"`) {
		t.Errorf("expected no referral, got %s", rec.Body.String())
	}
	if len(f.repo.referrals) != 0 {
		t.Error("expected no referral to be created")
	}
}

func TestHandler_Send(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()

	c, rec := newCtx(e, withActor(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), []string{"id"}, []string{r.ID.String()})
	if err := h.Send(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"Sent"`) {
		t.Errorf("expected Sent, got %s", rec.Body.String())
	}

	c, _ = newCtx(e, withActor(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), []string{"id"}, []string{r.ID.String()})
	expectStatus(t, h.Send(c), http.StatusConflict)
}

func uploadRequest(t *testing.T, a Actor, field, name string, data []byte) *http.Request {
	body, ct := multipartBody(t, field, name, data)
	req := httptest.NewRequest(http.MethodPut, "/", body)
	req.Header.Set(echo.HeaderContentType, ct)
	return withActor(req, a)
}

func TestHandler_UploadAndDownloadReport(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()

	c, rec := newCtx(e, uploadRequest(t, f.tech, ReportField, "blood count.pdf", pdfReport), []string{"id"}, []string{r.ID.String()})
	if err := h.UploadReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"Completed"`) {
		t.Errorf("expected Completed, got %s", rec.Body.String())
	}

	c, rec = newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), []string{"id"}, []string{r.ID.String()})
	if err := h.DownloadReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `inline; filename="blood count.pdf"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfReport) {
		t.Error("expected report bytes in body")
	}

	c, _ = newCtx(e, uploadRequest(t, f.tech, ReportField, "again.pdf", pdfReport), []string{"id"}, []string{r.ID.String()})
	expectStatus(t, h.UploadReport(c), http.StatusConflict)
}

func TestHandler_UploadReport_Errors(t *testing.T) {
	tests := []struct {
		name  string
		field string
		file  string
		data  []byte
		code  int
	}{
		{"wrong field", "file", "cbc.pdf", pdfReport, http.StatusBadRequest},
		{"unsupported type", ReportField, "cbc.txt", []byte("plain words only"), http.StatusUnsupportedMediaType},
		{"too large", ReportField, "cbc.pdf", append(append([]byte{}, pdfReport...), bytes.Repeat([]byte("x"), 4096)...), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			h := NewHandler(f.svc)
			e := echo.New()
			r := f.create()
			c, _ := newCtx(e, uploadRequest(t, f.tech, tt.field, tt.file, tt.data), []string{"id"}, []string{r.ID.String()})
			expectStatus(t, h.UploadReport(c), tt.code)
		})
	}
}

func TestHandler_DownloadReport_NotFound(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()

	c, _ := newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), []string{"id"}, []string{r.ID.String()})
	expectStatus(t, h.DownloadReport(c), http.StatusNotFound)
}

func TestHandler_DownloadReport_Forbidden(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()

	c, _ := newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.otherDoctor), []string{"id"}, []string{r.ID.String()})
	expectStatus(t, h.DownloadReport(c), http.StatusForbidden)
}

func TestHandler_List(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	f.create()

	req := httptest.NewRequest(http.MethodGet, "/?doctorId="+f.doctor.UserID.String()+"&status=Pending", nil)
	c, rec := newCtx(e, withActor(req, f.doctor), nil, nil)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one referral, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/?patient_id=nope", nil)
	c, _ = newCtx(e, withActor(req, f.doctor), nil, nil)
	expectStatus(t, h.List(c), http.StatusBadRequest)
}

func TestHandler_LabRoutes(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()
	if _, err := f.svc.AttachReport(context.Background(), f.tech, r.ID, upload("cbc.png", pngReport)); err != nil {
		t.Fatalf("attach report: %v", err)
	}

	c, rec := newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.tech), []string{"id"}, []string{f.hematology.ID.String()})
	if err := h.ListForLab(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), r.ID.String()) {
		t.Errorf("expected referral in lab listing, got %s", rec.Body.String())
	}

	c, _ = newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.tech),
		[]string{"id", "referralId"}, []string{f.radiology.ID.String(), r.ID.String()})
	expectStatus(t, h.GetForLab(c), http.StatusNotFound)

	c, rec = newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.tech),
		[]string{"id", "referralId"}, []string{f.hematology.ID.String(), r.ID.String()})
	if err := h.DownloadLabReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
}

func TestHandler_History(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.create()

	c, rec := newCtx(e, withActor(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), []string{"id"}, []string{r.ID.String()})
	if err := h.History(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hist []HistoryEntry
	json.Unmarshal(rec.Body.Bytes(), &hist)
	if len(hist) != 1 || hist[0].ToStatus != StatusPending {
		t.Errorf("unexpected history %s", rec.Body.String())
	}
}
