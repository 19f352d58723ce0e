package organization

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
	"github.com/carenet/carenet/pkg/pagination"
)

// AuditFeed serves the per-organization audit trail.
type AuditFeed interface {
	ForOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]audit.Entry, error)
}

type Handler struct {
	svc   *Service
	audit AuditFeed
}

func NewHandler(svc *Service, feed AuditFeed) *Handler {
	return &Handler{svc: svc, audit: feed}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/organizations")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.UpdateProfile)
	g.GET("/:id/staff", h.Staff)
	g.POST("/:id/staff", h.RecruitStaff)
	g.GET("/:id/beds", h.Beds)
	g.POST("/:id/beds", h.AddBed)
	g.PUT("/:id/beds/:bedId", h.UpdateBed)
	g.GET("/:id/pricing", h.Pricing)
	g.POST("/:id/pricing", h.AddPrice)
	g.DELETE("/:id/pricing/:itemId", h.RemovePrice)
	g.GET("/:id/ledger", h.Ledger)
	g.POST("/:id/ledger", h.AddLedgerEntry)
	g.POST("/:id/ledger/reset", h.ResetLedger)
	g.GET("/:id/reports", h.Reports)
	g.GET("/:id/audit-logs", h.AuditLogs)

	licenses := g.Group("", auth.RequireCapability(roles.ManageLicenses))
	licenses.POST("/:id/extend", h.ExtendLicense)
	licenses.PUT("/:id/status", h.SetStatus)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func badBody() error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{Status: Status(c.QueryParam("status"))}
	p := pagination.FromContext(c)
	orgs, total, err := h.svc.List(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orgs, total, p))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	org, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return badBody()
	}
	org, err := h.svc.UpdateProfile(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

func (h *Handler) Staff(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	staff, err := h.svc.Staff(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, staff)
}

type recruitRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

func (h *Handler) RecruitStaff(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req recruitRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if req.UserID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	m, err := h.svc.RecruitStaff(c.Request().Context(), id, req.UserID, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Beds(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	beds, err := h.svc.Beds(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"beds":      beds,
		"occupancy": CountOccupancy(beds),
	})
}

type bedRequest struct {
	Label string  `json:"label"`
	Type  BedType `json:"type"`
}

func (h *Handler) AddBed(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req bedRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	bed, err := h.svc.AddBed(c.Request().Context(), id, req.Label, req.Type)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, bed)
}

type bedUpdateRequest struct {
	IsOccupied bool       `json:"is_occupied"`
	PatientID  *uuid.UUID `json:"patient_id"`
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	bedID, err := uuidParam(c, "bedId")
	if err != nil {
		return err
	}
	var req bedUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	bed, err := h.svc.UpdateBed(c.Request().Context(), id, bedID, req.IsOccupied, req.PatientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bed)
}

func (h *Handler) Pricing(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Pricing(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

type priceRequest struct {
	InvestigationName string          `json:"investigation_name"`
	Price             decimal.Decimal `json:"price"`
}

func (h *Handler) AddPrice(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req priceRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	item, err := h.svc.AddPrice(c.Request().Context(), id, req.InvestigationName, req.Price)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) RemovePrice(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	itemID, err := uuidParam(c, "itemId")
	if err != nil {
		return err
	}
	if err := h.svc.RemovePrice(c.Request().Context(), id, itemID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Ledger(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	l, err := h.svc.Ledger(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) AddLedgerEntry(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in LedgerInput
	if err := c.Bind(&in); err != nil {
		return badBody()
	}
	e, err := h.svc.AddLedgerEntry(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ResetLedger(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.ResetLedger(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Reports(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	reports, err := h.svc.Reports(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reports)
}

func (h *Handler) AuditLogs(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.svc.AuthorizeCtx(ctx, id, roles.ViewOrgAudit); err != nil {
		return err
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	entries, err := h.audit.ForOrganization(ctx, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

type extendRequest struct {
	Months int `json:"months"`
}

func (h *Handler) ExtendLicense(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req extendRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	org, err := h.svc.ExtendLicense(c.Request().Context(), id, req.Months)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	org, err := h.svc.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}
