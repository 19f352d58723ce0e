package identity

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
)

const (
	roleStateActive    = "active"
	roleStateSuspended = "suspended"
)

var userColumns = []string{
	"id", "health_id", "email", "password_hash", "github_id", "name", "phone", "gender", "age",
	"blood_group", "date_of_birth", "address", "occupation", "allergies", "photo_url",
	"chronic_conditions", "emergency_contacts", "red_flag", "doctor_notes", "record_view_limit",
	"registration_number", "bmdc_number", "specialty", "degrees", "created_at", "updated_at",
}

var applicationColumns = []string{
	"id", "user_id", "role", "status", "details", "registration_number", "applied_at", "decided_at",
}

type pgRepo struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &pgRepo{db: q}
}

func (r *pgRepo) conn(ctx context.Context) db.Querier {
	return db.QuerierFromCtx(ctx, r.db)
}

func (r *pgRepo) Create(ctx context.Context, u *User) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.HealthID, u.Email, u.PasswordHash, u.GitHubID, u.Name, u.Phone, string(u.Gender), u.Age,
			u.BloodGroup, u.DateOfBirth, u.Address, u.Occupation, u.Allergies, u.PhotoURL,
			u.ChronicConditions, u.EmergencyContacts, u.RedFlag, u.DoctorNotes, u.RecordViewLimit,
			u.RegistrationNumber, u.BMDCNumber, u.Specialty, u.Degrees, u.CreatedAt, u.UpdatedAt))
	if err != nil {
		return db.MapError(err, "user", u.ID)
	}
	for _, role := range u.ActiveRoles {
		if err := r.SetRoleState(ctx, u.ID, role, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgRepo) get(ctx context.Context, where sq.Sqlizer, key any) (*User, error) {
	q := r.conn(ctx)
	u, err := db.Get[User](ctx, q, db.Builder.Select(userColumns...).From("users").Where(where))
	if err != nil {
		return nil, db.MapError(err, "user", key)
	}
	users := []*User{u}
	if err := r.loadRoles(ctx, users); err != nil {
		return nil, err
	}
	apps, err := db.Select[roles.Application](ctx, q, db.Builder.Select(applicationColumns...).
		From("role_applications").
		Where(sq.Eq{"user_id": u.ID}).
		OrderBy("applied_at"))
	if err != nil {
		return nil, fmt.Errorf("load role applications: %w", err)
	}
	u.AppliedRoles = apps
	return u, nil
}

type roleRow struct {
	UserID uuid.UUID `db:"user_id"`
	Role   string    `db:"role"`
	State  string    `db:"state"`
}

// loadRoles fills the role sets of every user in one query.
func (r *pgRepo) loadRoles(ctx context.Context, users []*User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*User, len(users))
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}
	rows, err := db.Select[roleRow](ctx, r.conn(ctx), db.Builder.Select("user_id", "role", "state").
		From("user_roles").
		Where(sq.Eq{"user_id": ids}).
		OrderBy("updated_at", "role"))
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	for _, row := range rows {
		u := byID[row.UserID]
		role, err := roles.Parse(row.Role)
		if u == nil || err != nil {
			continue
		}
		if row.State == roleStateActive {
			u.ActiveRoles = u.ActiveRoles.With(role)
		} else {
			u.SuspendedRoles = u.SuspendedRoles.With(role)
		}
	}
	return nil
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, sq.Eq{"id": id}, id)
}

func (r *pgRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, sq.Eq{"email": email}, email)
}

func (r *pgRepo) GetByGitHubID(ctx context.Context, githubID string) (*User, error) {
	return r.get(ctx, sq.Eq{"github_id": githubID}, githubID)
}

func (r *pgRepo) Lock(ctx context.Context, id uuid.UUID) error {
	query, args, err := db.Builder.Select("id").From("users").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}
	var got uuid.UUID
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&got); err != nil {
		return db.MapError(err, "user", id)
	}
	return nil
}

func (r *pgRepo) update(ctx context.Context, id uuid.UUID, set map[string]any) error {
	set["updated_at"] = time.Now().UTC()
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Update("users").SetMap(set).Where(sq.Eq{"id": id}))
	if err != nil {
		return db.MapError(err, "user", id)
	}
	return db.RequireAffected(tag, "user", id)
}

func (r *pgRepo) LinkGitHub(ctx context.Context, id uuid.UUID, githubID string) error {
	return r.update(ctx, id, map[string]any{"github_id": githubID})
}

func (r *pgRepo) UpdateProfile(ctx context.Context, u *User) error {
	return r.update(ctx, u.ID, map[string]any{
		"name":               u.Name,
		"phone":              u.Phone,
		"gender":             string(u.Gender),
		"age":                u.Age,
		"blood_group":        u.BloodGroup,
		"date_of_birth":      u.DateOfBirth,
		"address":            u.Address,
		"occupation":         u.Occupation,
		"allergies":          u.Allergies,
		"photo_url":          u.PhotoURL,
		"chronic_conditions": u.ChronicConditions,
		"emergency_contacts": u.EmergencyContacts,
		"specialty":          u.Specialty,
		"degrees":            u.Degrees,
		"bmdc_number":        u.BMDCNumber,
	})
}

func (r *pgRepo) List(ctx context.Context, f UserFilter, limit, offset int) ([]User, int, error) {
	base := db.Builder.Select(userColumns...).From("users")
	if f.Role != "" {
		base = base.Where(`EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = users.id AND ur.state = 'active' AND ur.role = ?)`, string(f.Role))
	}
	if f.StaffOnly {
		base = base.Where(`(SELECT count(*) FROM user_roles ur WHERE ur.user_id = users.id AND ur.state = 'active') > 1`)
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		base = base.Where(sq.Or{sq.ILike{"name": pattern}, sq.ILike{"email": pattern}, sq.Like{"health_id": pattern}})
	}

	q := r.conn(ctx)
	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	users, err := db.Select[User](ctx, q, base.OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	if err := r.loadRoles(ctx, pointers(users)); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *pgRepo) SearchPatients(ctx context.Context, query string, limit int) ([]User, error) {
	pattern := "%" + query + "%"
	users, err := db.Select[User](ctx, r.conn(ctx), db.Builder.Select(userColumns...).
		From("users").
		Where(sq.Or{sq.Like{"health_id": pattern}, sq.Like{"phone": pattern}}).
		OrderBy("name").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	if err := r.loadRoles(ctx, pointers(users)); err != nil {
		return nil, err
	}
	return users, nil
}

func pointers(users []User) []*User {
	out := make([]*User, len(users))
	for i := range users {
		out[i] = &users[i]
	}
	return out
}

func (r *pgRepo) SetRoleState(ctx context.Context, userID uuid.UUID, role roles.Role, active bool) error {
	state := roleStateSuspended
	if active {
		state = roleStateActive
	}
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("user_roles").
		Columns("user_id", "role", "state", "updated_at").
		Values(userID, string(role), state, time.Now().UTC()).
		Suffix("ON CONFLICT (user_id, role) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at"))
	if err != nil {
		return db.MapError(err, "user", userID)
	}
	return nil
}

func (r *pgRepo) DeleteRole(ctx context.Context, userID uuid.UUID, role roles.Role) error {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Delete("user_roles").
		Where(sq.Eq{"user_id": userID, "role": string(role)}))
	if err != nil {
		return db.MapError(err, "user role", role)
	}
	return db.RequireAffected(tag, "user role", role)
}

func (r *pgRepo) CreateApplication(ctx context.Context, app *roles.Application) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("role_applications").
		Columns(applicationColumns...).
		Values(app.ID, app.UserID, string(app.Role), string(app.Status), app.Details,
			app.RegistrationNumber, app.AppliedAt, app.DecidedAt))
	if err != nil {
		return db.MapError(err, "role application", app.Role)
	}
	return nil
}

func (r *pgRepo) ApprovePending(ctx context.Context, userID uuid.UUID, role roles.Role, at time.Time) (int, error) {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Update("role_applications").
		Set("status", string(roles.ApplicationApproved)).
		Set("decided_at", at).
		Where(sq.Eq{"user_id": userID, "role": string(role), "status": string(roles.ApplicationPending)}))
	if err != nil {
		return 0, db.MapError(err, "role application", role)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgRepo) ListApplications(ctx context.Context, status roles.ApplicationStatus, limit, offset int) ([]PendingApplication, int, error) {
	base := db.Builder.Select(
		"a.id", "a.user_id", "a.role", "a.status", "a.details", "a.registration_number",
		"a.applied_at", "a.decided_at", "u.name AS user_name", "u.email AS user_email",
	).From("role_applications a").Join("users u ON u.id = a.user_id")
	if status != "" {
		base = base.Where(sq.Eq{"a.status": string(status)})
	}

	q := r.conn(ctx)
	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count role applications: %w", err)
	}
	apps, err := db.Select[PendingApplication](ctx, q, base.OrderBy("a.applied_at", "a.id").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, fmt.Errorf("list role applications: %w", err)
	}
	return apps, total, nil
}

func (r *pgRepo) SetRedFlag(ctx context.Context, id uuid.UUID, flag RedFlag) error {
	return r.update(ctx, id, map[string]any{"red_flag": flag})
}

func (r *pgRepo) SetDoctorNotes(ctx context.Context, id uuid.UUID, notes string) error {
	return r.update(ctx, id, map[string]any{"doctor_notes": notes})
}

func (r *pgRepo) SetRecordViewLimit(ctx context.Context, id uuid.UUID, n int) error {
	return r.update(ctx, id, map[string]any{"record_view_limit": n})
}
