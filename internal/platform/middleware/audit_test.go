package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/auth"
)

func TestParseAuditPath(t *testing.T) {
	id := "0b6e7c1e-6b1f-4c5e-9a4e-3f1c2d9b8a77"
	tests := []struct {
		path     string
		resource string
		id       string
		report   bool
	}{
		{"/api/v1/patients", "patients", "", false},
		{"/api/v1/patients/" + id, "patients", id, false},
		{"/api/v1/referrals/" + id + "/report", "referrals", id, true},
		{"/api/v1/labs/" + id + "/referrals/" + id + "/report", "referrals", id, true},
		{"/api/v1/labs", "", "", false},
		{"/api/v1/users/login", "", "", false},
		{"/health", "", "", false},
		{"/api/v1/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resource, gotID, report := parseAuditPath(tt.path)
			if resource != tt.resource || gotID != tt.id || report != tt.report {
				t.Errorf("parseAuditPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, resource, gotID, report, tt.resource, tt.id, tt.report)
			}
		})
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		report bool
		want   string
	}{
		{http.MethodGet, false, "read"},
		{http.MethodGet, true, "download"},
		{http.MethodPut, true, "upload"},
		{http.MethodPut, false, "update"},
		{http.MethodPost, false, "create"},
		{http.MethodDelete, false, "delete"},
	}
	for _, tt := range tests {
		if got := httpMethodToAction(tt.method, tt.report); got != tt.want {
			t.Errorf("httpMethodToAction(%s, %v) = %q, want %q", tt.method, tt.report, got, tt.want)
		}
	}
}

func TestAudit_RecordsReportDownload(t *testing.T) {
	id := "0b6e7c1e-6b1f-4c5e-9a4e-3f1c2d9b8a77"
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/referrals/"+id+"/report", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "doc-1", auth.RoleDoctor, ""))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	var got []AuditEntry
	rec := AuditRecorderFunc(func(entry AuditEntry) error {
		got = append(got, entry)
		return nil
	})

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(got))
	}
	entry := got[0]
	if entry.Action != "download" {
		t.Errorf("expected action download, got %q", entry.Action)
	}
	if entry.UserID != "doc-1" {
		t.Errorf("expected user doc-1, got %q", entry.UserID)
	}
	if entry.ResourceID != id {
		t.Errorf("expected resource id %s, got %q", id, entry.ResourceID)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %q", entry.RequestID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var status int
	rec := AuditRecorderFunc(func(entry AuditEntry) error {
		status = entry.StatusCode
		return errors.New("store down")
	})
	handler := func(echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	}

	if err := Audit(zerolog.Nop(), rec)(handler)(c); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if status != http.StatusForbidden {
		t.Errorf("expected recorded status 403, got %d", status)
	}
}

func TestAudit_SkipsUnauditedPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/labs", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	rec := AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	})
	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected no audit entry for /api/v1/labs")
	}
}
