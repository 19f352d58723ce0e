package scheduling

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carenet/carenet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/schedules", h.ListSchedules)
	api.POST("/schedules", h.AddSchedule)
	api.PUT("/schedules/:id", h.UpdateSchedule)
	api.DELETE("/schedules/:id", h.RemoveSchedule)

	api.GET("/appointments", h.ListAppointments)
	api.POST("/appointments", h.Book)
	api.PUT("/appointments/:id/status", h.SetStatus)

	api.GET("/availability", h.Availability)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// -- Schedule --

func (h *Handler) ListSchedules(c echo.Context) error {
	var (
		f   ScheduleFilter
		err error
	)
	if f.OrgID, err = queryUUID(c, "org_id"); err != nil {
		return err
	}
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("day_of_week"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid day_of_week")
		}
		f.DayOfWeek = &d
	}
	list, err := h.svc.ListSchedules(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

type scheduleRequest struct {
	OrgID uuid.UUID `json:"org_id"`
	ScheduleInput
}

func (h *Handler) AddSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrgID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id is required")
	}
	sc, err := h.svc.AddSchedule(c.Request().Context(), req.OrgID, req.ScheduleInput)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sc, err := h.svc.UpdateSchedule(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) RemoveSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveSchedule(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointment --

func (h *Handler) Book(c echo.Context) error {
	var in BookInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

type statusRequest struct {
	Status AppointmentStatus `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var (
		f   AppointmentFilter
		err error
	)
	if f.OrgID, err = queryUUID(c, "org_id"); err != nil {
		return err
	}
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		f.Day = &d
	}
	f.Status = AppointmentStatus(c.QueryParam("status"))

	p := pagination.FromContext(c)
	list, total, err := h.svc.ListAppointments(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, p))
}

func (h *Handler) Availability(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	if doctorID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	av, err := h.svc.Availability(c.Request().Context(), *doctorID, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, av)
}
