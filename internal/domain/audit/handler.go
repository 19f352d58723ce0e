package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
	"github.com/carenet/carenet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireCapability(roles.ViewAllAudit))
	admin.GET("/audit-logs", h.Search)
}

func (h *Handler) Search(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	p := pagination.FromContextMax(c, h.svc.FeedLimit())
	entries, total, err := h.svc.Search(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p))
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	parseID := func(name string) (*uuid.UUID, error) {
		v := c.QueryParam(name)
		if v == "" {
			return nil, nil
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		return &id, nil
	}
	parseTime := func(name string) (*time.Time, error) {
		v := c.QueryParam(name)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC3339")
		}
		return &t, nil
	}

	var err error
	if f.ActorID, err = parseID("actor_id"); err != nil {
		return f, err
	}
	if f.OrgID, err = parseID("org_id"); err != nil {
		return f, err
	}
	if f.TargetID, err = parseID("target_id"); err != nil {
		return f, err
	}
	if f.Since, err = parseTime("since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime("until"); err != nil {
		return f, err
	}
	f.Action = Action(c.QueryParam("action"))
	f.Query = c.QueryParam("q")
	return f, nil
}
