package referral

import (
	"errors"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/domain/lab"
	"github.com/medref/medref/internal/domain/patient"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/pkg/pagination"
)

// ReportField is the multipart field carrying an uploaded test report.
const ReportField = "test_report"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)
	labTech := auth.RequireRole(auth.RoleLabTechnician)
	either := auth.RequireRole(auth.RoleDoctor, auth.RoleLabTechnician)

	api.PUT("/patients/:id", h.UpdatePatient, doctor)
	api.POST("/patients/:id/referrals", h.Create, doctor)

	api.GET("/referrals", h.List, doctor)
	api.GET("/referrals/:id", h.Get, either)
	api.POST("/referrals/:id/send", h.Send, doctor)
	api.PUT("/referrals/:id/report", h.UploadReport, labTech)
	api.GET("/referrals/:id/report", h.DownloadReport, either)
	api.GET("/referrals/:id/status-history", h.History, either)

	api.GET("/labs/:id/referrals", h.ListForLab, labTech)
	api.GET("/labs/:id/referrals/:referralId", h.GetForLab, labTech)
	api.GET("/labs/:id/referrals/:referralId/report", h.DownloadLabReport, labTech)
}

// UpdatePatient updates a patient. When the payload names a test type a
// referral is created in the same transaction.
func (h *Handler) UpdatePatient(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateAndReferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var res *UpdateAndReferResult
	if req.HasReferral() {
		res, err = h.svc.UpdatePatientAndRefer(c.Request().Context(), actor, id, &req)
	} else {
		res, err = h.svc.UpdatePatient(c.Request().Context(), id, &req.UpdateRequest)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PatientID = patientID

	r, err := h.svc.Create(c.Request().Context(), actor, &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// List accepts doctor_id (or doctorId), patient_id, lab_id and status filters.
func (h *Handler) List(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return httpError(err)
	}
	return listResponse(c, items, total, f)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Send(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Send(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UploadReport(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile(ReportField)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field "+ReportField+" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()

	r, err := h.svc.AttachReport(c.Request().Context(), actor, id, &ReportUpload{FileName: fh.Filename, Content: f})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rep, err := h.svc.GetReport(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return writeReport(c, rep)
}

func (h *Handler) History(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*HistoryEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListForLab(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	labID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListForLab(c.Request().Context(), actor, labID, f)
	if err != nil {
		return httpError(err)
	}
	return listResponse(c, items, total, f)
}

func (h *Handler) GetForLab(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	labID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	id, err := parseID(c, "referralId")
	if err != nil {
		return err
	}
	r, err := h.svc.GetForLab(c.Request().Context(), actor, labID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DownloadLabReport(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	labID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	id, err := parseID(c, "referralId")
	if err != nil {
		return err
	}
	rep, err := h.svc.GetReportForLab(c.Request().Context(), actor, labID, id)
	if err != nil {
		return httpError(err)
	}
	return writeReport(c, rep)
}

func writeReport(c echo.Context, rep *Report) error {
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": rep.FileName})
	if disposition == "" {
		disposition = "inline"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, rep.ContentType, rep.Data)
}

func listResponse(c echo.Context, items []*Referral, total int, f Filter) error {
	pg := pagination.Params{Limit: f.Limit, Offset: f.Offset}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func filterFromQuery(c echo.Context) (Filter, error) {
	pg := pagination.FromContext(c)
	f := Filter{Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset}

	doctor := c.QueryParam("doctor_id")
	if doctor == "" {
		doctor = c.QueryParam("doctorId")
	}
	for _, q := range []struct {
		name  string
		value string
		dst   **uuid.UUID
	}{
		{"doctor_id", doctor, &f.DoctorID},
		{"patient_id", c.QueryParam("patient_id"), &f.PatientID},
		{"lab_id", c.QueryParam("lab_id"), &f.LabID},
	} {
		if q.value == "" {
			continue
		}
		id, err := uuid.Parse(q.value)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+q.name)
		}
		*q.dst = &id
	}
	return f, nil
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func actorFromContext(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	a := Actor{UserID: uid}
	if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
		a.Role = roles[0]
	}
	if v := auth.LabIDFromContext(ctx); v != "" {
		labID, err := uuid.Parse(v)
		if err != nil {
			return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid lab binding")
		}
		a.LabID = &labID
	}
	return a, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, patient.ErrValidation),
		errors.Is(err, blobstore.ErrMissingFileName), errors.Is(err, blobstore.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReportMissing),
		errors.Is(err, patient.ErrNotFound), errors.Is(err, lab.ErrNotFound),
		errors.Is(err, identity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
