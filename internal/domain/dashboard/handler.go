package dashboard

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dashboard")
	g.GET("/navigation", h.Navigation)
	g.GET("/admin", h.Admin)
	g.GET("/doctor", h.Doctor, auth.RequireRole(roles.Doctor))
	g.GET("/organizations/:id/owner", h.Owner)
	g.GET("/organizations/:id/pathology", h.Pathology)
}

func orgID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	return id, nil
}

func (h *Handler) Navigation(c echo.Context) error {
	items, err := h.svc.Navigation(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Admin(c echo.Context) error {
	v, err := h.svc.Admin(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Doctor(c echo.Context) error {
	v, err := h.svc.Doctor(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Owner(c echo.Context) error {
	id, err := orgID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Owner(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Pathology(c echo.Context) error {
	id, err := orgID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Pathology(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
