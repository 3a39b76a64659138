package lab

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/labs", h.ListLabs)
	api.GET("/test-types", h.ListTestTypes)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/labs", h.CreateLab)
	admin.POST("/test-types", h.CreateTestType)
}

func (h *Handler) CreateLab(c echo.Context) error {
	var req CreateLabRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.svc.CreateLab(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLabs(c echo.Context) error {
	labs, err := h.svc.ListLabs(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if labs == nil {
		labs = []*Lab{}
	}
	return c.JSON(http.StatusOK, labs)
}

func (h *Handler) CreateTestType(c echo.Context) error {
	var req CreateTestTypeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTestType(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// ListTestTypes accepts an optional ?lab_id= filter.
func (h *Handler) ListTestTypes(c echo.Context) error {
	var labID *uuid.UUID
	if v := c.QueryParam("lab_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lab_id")
		}
		labID = &id
	}
	types, err := h.svc.ListTestTypes(c.Request().Context(), labID)
	if err != nil {
		return httpError(err)
	}
	if types == nil {
		types = []*TestType{}
	}
	return c.JSON(http.StatusOK, types)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTestTypeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
