package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

const registerBody = `{"first_name":"Ada","last_name":"Lovelace","mobile":"555","email":"ada@example.com","password":"analytical","role":"Doctor"}`

func TestHandler_Register(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, registerBody), rec)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("expected password hash to be omitted from response")
	}
}

func TestHandler_Register_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	_ = h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), httptest.NewRecorder()))

	err := h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusConflict)
}

func TestHandler_Register_BadRole(t *testing.T) {
	h, e := newTestHandler()
	body := strings.Replace(registerBody, `"Doctor"`, `"Janitor"`, 1)
	err := h.Register(e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusBadRequest)
}

func TestHandler_Login(t *testing.T) {
	h, e := newTestHandler()
	_ = h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), httptest.NewRecorder()))

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"email":"ada@example.com","password":"analytical"}`), rec)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected token in response")
	}
	if resp.User == nil || resp.User.Email != "ada@example.com" {
		t.Error("expected user in response")
	}
}

func TestHandler_Login_Errors(t *testing.T) {
	h, e := newTestHandler()
	_ = h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), httptest.NewRecorder()))

	err := h.Login(e.NewContext(jsonRequest(http.MethodPost, `{"email":"ghost@example.com","password":"analytical"}`), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusNotFound)

	err = h.Login(e.NewContext(jsonRequest(http.MethodPost, `{"email":"ada@example.com","password":"wrongwrong"}`), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusUnauthorized)
}

func TestHandler_GetUser_SelfAndAdmin(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	_ = h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), rec))
	var created User
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	get := func(userID, role string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, role, ""))
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(created.ID.String())
		return h.GetUser(c)
	}

	if err := get(created.ID.String(), auth.RoleDoctor); err != nil {
		t.Errorf("expected self access, got %v", err)
	}
	if err := get(uuid.NewString(), auth.RoleAdmin); err != nil {
		t.Errorf("expected admin access, got %v", err)
	}
	expectHTTPError(t, get(uuid.NewString(), auth.RoleDoctor), http.StatusForbidden)
}

func TestHandler_GetUser_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPError(t, h.GetUser(c), http.StatusBadRequest)
}

func TestHandler_ListRoles(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.ListRoles(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var roles []Role
	if err := json.Unmarshal(rec.Body.Bytes(), &roles); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(roles) != 3 {
		t.Errorf("expected 3 roles, got %d", len(roles))
	}
}

func TestHandler_ListUsers(t *testing.T) {
	h, e := newTestHandler()
	_ = h.Register(e.NewContext(jsonRequest(http.MethodPost, registerBody), httptest.NewRecorder()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?role=Doctor", nil)
	if err := h.ListUsers(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected total 1, got %s", rec.Body.String())
	}
}
