package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/auth"
)

// AuditEntry records who touched which patient or referral resource.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string // read, create, update, delete, download, upload
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. Tests provide a mock.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs access to patient and referral data under /api/v1. Report
// transfers are tagged as upload or download.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			resource, resourceID, isReport := parseAuditPath(path)
			if resource == "" {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Resource:   resource,
				ResourceID: resourceID,
				Action:     httpMethodToAction(req.Method, isReport),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

// parseAuditPath returns the audited resource for a path, or "" when the
// path is not audited.
//
//	/api/v1/patients/<id>                   -> patients, <id>
//	/api/v1/referrals/<id>/report           -> referrals, <id>, report
//	/api/v1/labs/<lab>/referrals/<id>/report -> referrals, <id>, report
func parseAuditPath(path string) (resource, id string, report bool) {
	if !strings.HasPrefix(path, "/api/v1/") {
		return "", "", false
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) >= 3 && segments[0] == "labs" && segments[2] == "referrals" {
		segments = segments[2:]
	}
	switch segments[0] {
	case "patients", "referrals":
		resource = segments[0]
	default:
		return "", "", false
	}
	if len(segments) > 1 && isUUIDLike(segments[1]) {
		id = segments[1]
	}
	report = len(segments) > 2 && segments[len(segments)-1] == "report"
	return resource, id, report
}

func httpMethodToAction(method string, report bool) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		if report {
			return "download"
		}
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		if report {
			return "upload"
		}
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
