package identity

import (
	"net/http"
	"strconv"

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
	// Sign-in endpoints are listed in auth.publicPaths.
	api.POST("/auth/signup", h.SignUp)
	api.POST("/auth/signin", h.SignIn)
	api.POST("/auth/oauth/github", h.SignInWithGitHub)
	api.GET("/auth/oauth/github/url", h.GitHubURL)

	api.GET("/me", h.Me)
	api.PUT("/me", h.UpdateMe)
	api.GET("/me/navigation", h.Navigation)
	api.POST("/me/role-applications", h.ApplyForRole)

	clinical := api.Group("/patients", auth.RequireCapability(roles.ViewPatients))
	clinical.GET("", h.FindPatients)
	clinical.POST("/:id/view", h.ViewPatient)

	notes := api.Group("/patients", auth.RequireCapability(roles.WriteClinicalNotes))
	notes.PUT("/:id/red-flag", h.SetRedFlag)
	notes.PUT("/:id/notes", h.SetDoctorNotes)

	admin := api.Group("/admin", auth.RequireCapability(roles.ManageRoles))
	admin.GET("/users", h.ListUsers)
	admin.GET("/role-applications", h.ListApplications)
	admin.POST("/users/:id/roles/approve", h.ApproveRole)
	admin.POST("/users/:id/roles/suspend", h.SuspendRole)
	admin.POST("/users/:id/roles/restore", h.RestoreRole)
	admin.POST("/users/:id/roles/remove", h.RemoveRole)
	admin.PUT("/users/:id/record-view-limit", h.SetRecordViewLimit)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Auth --

func (h *Handler) SignUp(c echo.Context) error {
	var in SignUpInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.SignUp(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SignInWithGitHub(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.SignInWithGitHub(c.Request().Context(), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GitHubURL(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		state = uuid.NewString()
	}
	url, err := h.svc.GitHubAuthorizeURL(state)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url, "state": state})
}

// -- Self-service --

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.Me(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	var patch ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Navigation(c echo.Context) error {
	items, err := h.svc.Navigation(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ApplyForRole(c echo.Context) error {
	var in ApplyInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	app, err := h.svc.ApplyForRole(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, app)
}

// -- Clinical --

func (h *Handler) FindPatients(c echo.Context) error {
	users, err := h.svc.FindPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) ViewPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.ViewPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetRedFlag(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.SetRedFlag(c.Request().Context(), id, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetDoctorNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.SetDoctorNotes(c.Request().Context(), id, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// -- Admin --

func (h *Handler) ListUsers(c echo.Context) error {
	f := UserFilter{Query: c.QueryParam("q")}
	if raw := c.QueryParam("role"); raw != "" {
		r, err := roles.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
		}
		f.Role = r
	}
	if raw := c.QueryParam("staff_only"); raw != "" {
		staff, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid staff_only")
		}
		f.StaffOnly = staff
	}
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p))
}

func (h *Handler) ListApplications(c echo.Context) error {
	status := roles.ApplicationStatus(c.QueryParam("status"))
	if status == "" {
		status = roles.ApplicationPending
	}
	p := pagination.FromContext(c)
	apps, total, err := h.svc.ListApplications(c.Request().Context(), status, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(apps, total, p))
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) roleChange(c echo.Context, fn func(*Service, echo.Context, uuid.UUID, string) (*User, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := fn(h.svc, c, id, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ApproveRole(c echo.Context) error {
	return h.roleChange(c, func(s *Service, c echo.Context, id uuid.UUID, r string) (*User, error) {
		return s.ApproveRole(c.Request().Context(), id, r)
	})
}

func (h *Handler) SuspendRole(c echo.Context) error {
	return h.roleChange(c, func(s *Service, c echo.Context, id uuid.UUID, r string) (*User, error) {
		return s.SuspendRole(c.Request().Context(), id, r)
	})
}

func (h *Handler) RestoreRole(c echo.Context) error {
	return h.roleChange(c, func(s *Service, c echo.Context, id uuid.UUID, r string) (*User, error) {
		return s.RestoreRole(c.Request().Context(), id, r)
	})
}

func (h *Handler) RemoveRole(c echo.Context) error {
	return h.roleChange(c, func(s *Service, c echo.Context, id uuid.UUID, r string) (*User, error) {
		return s.RemoveRole(c.Request().Context(), id, r)
	})
}

func (h *Handler) SetRecordViewLimit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Limit int `json:"limit"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.SetRecordViewLimit(c.Request().Context(), id, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
