package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/websocket"
)

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	Record(ctx context.Context, action audit.Action, details string, target audit.Target) error
}

type TokenIssuer interface {
	Issue(userID uuid.UUID, roles []string) (string, time.Time, error)
}

type OAuthVerifier interface {
	AuthorizeURL(state string) string
	VerifyCode(ctx context.Context, code string) (*auth.OAuthIdentity, error)
}

// OwnerProvisioner creates the first organization of a newly approved owner.
// It runs inside the approval transaction and must be idempotent.
type OwnerProvisioner interface {
	ProvisionForOwner(ctx context.Context, ownerID uuid.UUID) error
}

const (
	healthIDAttempts  = 5
	patientSearchSize = 20
)

var errBadCredentials = fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)

type Service struct {
	users            Repository
	tx               db.Transactor
	audit            Auditor
	tokens           TokenIssuer
	github           OAuthVerifier
	owners           OwnerProvisioner
	notifier         *websocket.Notifier
	defaultViewLimit int
	now              func() time.Time
	logger           zerolog.Logger
}

type Options struct {
	Tokens           TokenIssuer
	GitHub           OAuthVerifier
	Notifier         *websocket.Notifier
	DefaultViewLimit int
	Logger           zerolog.Logger
}

func NewService(users Repository, tx db.Transactor, auditor Auditor, opts Options) *Service {
	if opts.DefaultViewLimit < 1 {
		opts.DefaultViewLimit = 10
	}
	return &Service{
		users:            users,
		tx:               tx,
		audit:            auditor,
		tokens:           opts.Tokens,
		github:           opts.GitHub,
		notifier:         opts.Notifier,
		defaultViewLimit: opts.DefaultViewLimit,
		now:              time.Now,
		logger:           opts.Logger.With().Str("component", "identity").Logger(),
	}
}

// SetOwnerProvisioner breaks the construction cycle with the organization
// service.
func (s *Service) SetOwnerProvisioner(p OwnerProvisioner) {
	s.owners = p
}

// -- Sessions --

type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	var v domain.Validator
	v.Check(strings.Contains(email, "@"), "email", "a valid email is required")
	v.Check(len(in.Password) >= auth.MinPasswordLength, "password",
		fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	v.Check(strings.TrimSpace(in.Name) != "", "name", "is required")
	if err := v.Err(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email %s: %w", email, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := s.newPatient(strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone))
	u.Email = &email
	u.PasswordHash = &hash

	if err := s.create(ctx, u); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("user signed up")
	return s.session(u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == nil {
		return nil, errBadCredentials
	}
	ok, err := auth.CheckPassword(*u.PasswordHash, password)
	if err != nil || !ok {
		return nil, errBadCredentials
	}
	return s.session(u)
}

func (s *Service) GitHubEnabled() bool { return s.github != nil }

func (s *Service) GitHubAuthorizeURL(state string) (string, error) {
	if s.github == nil {
		return "", fmt.Errorf("github sign-in is not configured: %w", domain.ErrNotFound)
	}
	return s.github.AuthorizeURL(state), nil
}

func (s *Service) SignInWithGitHub(ctx context.Context, code string) (*Session, error) {
	if s.github == nil {
		return nil, fmt.Errorf("github sign-in is not configured: %w", domain.ErrNotFound)
	}
	if strings.TrimSpace(code) == "" {
		return nil, domain.NewValidationError("code", "is required")
	}
	ident, err := s.github.VerifyCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github: %w", domain.ErrUnauthorized)
	}

	u, err := s.users.GetByGitHubID(ctx, ident.ProviderID)
	if err == nil {
		return s.session(u)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	email := normalizeEmail(ident.Email)
	if email != "" {
		u, err = s.users.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.users.LinkGitHub(ctx, u.ID, ident.ProviderID); err != nil {
				return nil, err
			}
			return s.session(u)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	name := defaultGitHubName
	if ident.Name != nil && strings.TrimSpace(*ident.Name) != "" {
		name = strings.TrimSpace(*ident.Name)
	}
	u = s.newPatient(name, defaultGitHubPhone)
	if email != "" {
		u.Email = &email
	}
	providerID := ident.ProviderID
	u.GitHubID = &providerID
	u.PhotoURL = ident.AvatarURL

	if err := s.create(ctx, u); err != nil {
		return nil, fmt.Errorf("github sign up: %w", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("user signed up with github")
	return s.session(u)
}

func (s *Service) newPatient(name, phone string) *User {
	now := s.now().UTC()
	return &User{
		ID:                uuid.New(),
		Name:              name,
		Phone:             phone,
		Gender:            GenderOther,
		BloodGroup:        defaultBloodGroup,
		EmergencyContacts: EmergencyContacts{},
		RecordViewLimit:   s.defaultViewLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
		ActiveRoles:       roles.NewSet(roles.Patient),
	}
}

// create inserts u, drawing a fresh health id on collision.
func (s *Service) create(ctx context.Context, u *User) error {
	var err error
	for attempt := 0; attempt < healthIDAttempts; attempt++ {
		u.HealthID = newHealthID()
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.users.Create(ctx, u)
		})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, "user.created", "User", u.ID.String(), u.Public(), websocket.TopicUsers)
	return nil
}

func newHealthID() string {
	lo := int64(1)
	for i := 1; i < healthIDDigits; i++ {
		lo *= 10
	}
	return fmt.Sprintf("%d", lo+rand.Int63n(9*lo))
}

func (s *Service) session(u *User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.ActiveRoles.Strings())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: u.Public()}, nil
}

// -- Lookups --

// Get loads a user without permission checks. Other services use it after
// authorizing the caller themselves.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// ResolveActor maps an authenticated subject to its stored roles.
func (s *Service) ResolveActor(ctx context.Context, id uuid.UUID) (*roles.Actor, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("unknown subject: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	return u.Actor(), nil
}

func (s *Service) Me(ctx context.Context) (*User, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	pub := u.Public()
	return &pub, nil
}

func (s *Service) Navigation(ctx context.Context) ([]roles.NavItem, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	return roles.Navigation(actor.Roles), nil
}

func (s *Service) UpdateProfile(ctx context.Context, patch ProfilePatch) (*User, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	patch.apply(u)

	var v domain.Validator
	v.Check(u.Name != "", "name", "is required")
	v.Check(u.Gender.Valid(), "gender", "must be Male, Female or Other")
	v.Check(u.Age >= 0, "age", "must not be negative")
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.notifier.Notify(ctx, "user.updated", "User", u.ID.String(), u.Public(), websocket.TopicUsers)
	pub := u.Public()
	return &pub, nil
}

// -- Role applications --

type ApplyInput struct {
	Role               string `json:"role"`
	Details            string `json:"details"`
	RegistrationNumber string `json:"registration_number"`
}

func (s *Service) ApplyForRole(ctx context.Context, in ApplyInput) (*roles.Application, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	role, err := roles.Parse(in.Role)
	if err != nil {
		return nil, domain.NewValidationError("role", err.Error())
	}
	if role == roles.Patient {
		return nil, domain.NewValidationError("role", "every user is already a patient")
	}

	app := &roles.Application{
		ID:                 uuid.New(),
		UserID:             actor.ID,
		Role:               role,
		Status:             roles.ApplicationPending,
		Details:            strings.TrimSpace(in.Details),
		RegistrationNumber: strings.TrimSpace(in.RegistrationNumber),
		AppliedAt:          s.now().UTC(),
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Lock(ctx, actor.ID); err != nil {
			return err
		}
		u, err := s.users.GetByID(ctx, actor.ID)
		if err != nil {
			return err
		}
		if u.ActiveRoles.Has(role) || u.SuspendedRoles.Has(role) {
			return fmt.Errorf("role %s already assigned: %w", role, domain.ErrConflict)
		}
		if roles.HasPending(u.AppliedRoles, role) {
			return fmt.Errorf("application for %s already pending: %w", role, domain.ErrConflict)
		}
		if err := s.users.CreateApplication(ctx, app); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("application for %s already pending: %w", role, domain.ErrConflict)
			}
			return err
		}
		return s.audit.Record(ctx, audit.RoleApplied,
			fmt.Sprintf("Applied for %s", role), audit.UserTarget(u.ID, u.Name))
	})
	if err != nil {
		return nil, fmt.Errorf("apply for role: %w", err)
	}

	s.notifier.Notify(ctx, "role_application.created", "RoleApplication", app.ID.String(), app, websocket.TopicRoleApplications)
	return app, nil
}

func (s *Service) ListApplications(ctx context.Context, status roles.ApplicationStatus, limit, offset int) ([]PendingApplication, int, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, 0, err
	}
	if status != "" && status != roles.ApplicationPending && status != roles.ApplicationApproved {
		return nil, 0, domain.NewValidationError("status", "must be pending or approved")
	}
	return s.users.ListApplications(ctx, status, limit, offset)
}

// -- Role administration --

func (s *Service) authorize(ctx context.Context, c roles.Capability) error {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return err
	}
	return roles.Authorize(actor, c)
}

// changeRoles locks the user, applies mutate to its assignment and persists
// the result, all in one transaction.
func (s *Service) changeRoles(ctx context.Context, userID uuid.UUID, mutate func(ctx context.Context, u *User, a *roles.Assignment) error) (*User, error) {
	var out *User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Lock(ctx, userID); err != nil {
			return err
		}
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		before := u.Assignment()
		after := u.Assignment()
		if err := mutate(ctx, u, &after); err != nil {
			return err
		}
		if err := s.persistAssignment(ctx, userID, before, after); err != nil {
			return err
		}
		u.ActiveRoles, u.SuspendedRoles = after.Active, after.Suspended
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, "user.roles_changed", "User", out.ID.String(), out.Public(), websocket.TopicUsers)
	return out, nil
}

func (s *Service) persistAssignment(ctx context.Context, userID uuid.UUID, before, after roles.Assignment) error {
	for _, r := range after.Active {
		if !before.Active.Has(r) {
			if err := s.users.SetRoleState(ctx, userID, r, true); err != nil {
				return err
			}
		}
	}
	for _, r := range after.Suspended {
		if !before.Suspended.Has(r) {
			if err := s.users.SetRoleState(ctx, userID, r, false); err != nil {
				return err
			}
		}
	}
	for _, r := range append(append(roles.Set{}, before.Active...), before.Suspended...) {
		if !after.Active.Has(r) && !after.Suspended.Has(r) {
			if err := s.users.DeleteRole(ctx, userID, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseRole(raw string) (roles.Role, error) {
	r, err := roles.Parse(raw)
	if err != nil {
		return "", domain.NewValidationError("role", err.Error())
	}
	return r, nil
}

// ApproveRole grants role and closes its pending applications. Approving an
// owner provisions their first organization in the same transaction.
func (s *Service) ApproveRole(ctx context.Context, userID uuid.UUID, rawRole string) (*User, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, err
	}
	role, err := parseRole(rawRole)
	if err != nil {
		return nil, err
	}
	u, err := s.changeRoles(ctx, userID, func(ctx context.Context, u *User, a *roles.Assignment) error {
		now := s.now().UTC()
		a.Approve(u.AppliedRoles, role, now)
		if _, err := s.users.ApprovePending(ctx, userID, role, now); err != nil {
			return err
		}
		if role == roles.OrgOwner && s.owners != nil {
			if err := s.owners.ProvisionForOwner(ctx, userID); err != nil {
				return fmt.Errorf("provision organization: %w", err)
			}
		}
		return s.audit.Record(ctx, audit.RoleApproved,
			fmt.Sprintf("Approved %s role for %s", role, u.Name), audit.UserTarget(u.ID, u.Name))
	})
	if err != nil {
		return nil, fmt.Errorf("approve role: %w", err)
	}
	s.logger.Info().Str("user_id", userID.String()).Str("role", string(role)).Msg("role approved")
	s.notifier.Notify(ctx, "role_application.approved", "User", userID.String(), nil, websocket.TopicRoleApplications)
	return u, nil
}

func (s *Service) SuspendRole(ctx context.Context, userID uuid.UUID, rawRole string) (*User, error) {
	return s.transition(ctx, userID, rawRole, audit.RoleSuspended, "Suspended", (*roles.Assignment).Suspend)
}

func (s *Service) RestoreRole(ctx context.Context, userID uuid.UUID, rawRole string) (*User, error) {
	return s.transition(ctx, userID, rawRole, audit.RoleRestored, "Restored", (*roles.Assignment).Restore)
}

func (s *Service) RemoveRole(ctx context.Context, userID uuid.UUID, rawRole string) (*User, error) {
	return s.transition(ctx, userID, rawRole, audit.RoleRemoved, "Removed", (*roles.Assignment).Remove)
}

func (s *Service) transition(ctx context.Context, userID uuid.UUID, rawRole string, action audit.Action, verb string,
	apply func(*roles.Assignment, roles.Role) error) (*User, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, err
	}
	role, err := parseRole(rawRole)
	if err != nil {
		return nil, err
	}
	u, err := s.changeRoles(ctx, userID, func(ctx context.Context, u *User, a *roles.Assignment) error {
		if err := apply(a, role); err != nil {
			return err
		}
		return s.audit.Record(ctx, action,
			fmt.Sprintf("%s %s role for %s", verb, role, u.Name), audit.UserTarget(u.ID, u.Name))
	})
	if err != nil {
		return nil, fmt.Errorf("%s role: %w", strings.ToLower(verb), err)
	}
	s.logger.Info().Str("user_id", userID.String()).Str("role", string(role)).Str("action", string(action)).Msg("role changed")
	return u, nil
}

// GrantRole makes role active for the user. It performs no permission check
// and writes no audit entry; callers do both inside their own transaction.
func (s *Service) GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role) (*User, error) {
	return s.changeRoles(ctx, userID, func(_ context.Context, _ *User, a *roles.Assignment) error {
		a.Grant(role)
		return nil
	})
}

// Promote is the operator bootstrap: grant role to the user with email.
func (s *Service) Promote(ctx context.Context, email string, rawRole string) (*User, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, err
	}
	role, err := parseRole(rawRole)
	if err != nil {
		return nil, err
	}
	target, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	var out *User
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.GrantRole(ctx, target.ID, role)
		if err != nil {
			return err
		}
		if role == roles.OrgOwner && s.owners != nil {
			if err := s.owners.ProvisionForOwner(ctx, u.ID); err != nil {
				return err
			}
		}
		out = u
		return s.audit.Record(ctx, audit.RoleGranted,
			fmt.Sprintf("Granted %s role to %s", role, u.Name), audit.UserTarget(u.ID, u.Name))
	})
	if err != nil {
		return nil, fmt.Errorf("promote: %w", err)
	}
	return out, nil
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter, limit, offset int) ([]User, int, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, f, limit, offset)
}

func (s *Service) SetRecordViewLimit(ctx context.Context, userID uuid.UUID, n int) (*User, error) {
	if err := s.authorize(ctx, roles.ManageRoles); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, domain.NewValidationError("record_view_limit", "must be at least 1")
	}
	return s.clinicalUpdate(ctx, userID, func(ctx context.Context, u *User) error {
		if err := s.users.SetRecordViewLimit(ctx, userID, n); err != nil {
			return err
		}
		u.RecordViewLimit = n
		return s.audit.Record(ctx, audit.RecordQuotaUpdated,
			fmt.Sprintf("Set record view limit of %s to %d", u.Name, n), audit.UserTarget(u.ID, u.Name))
	})
}

// -- Clinical access --

func (s *Service) FindPatients(ctx context.Context, query string) ([]User, error) {
	if err := s.authorize(ctx, roles.ViewPatients); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if len(query) < minPatientQuery {
		return nil, domain.NewValidationError("q", fmt.Sprintf("must be at least %d characters", minPatientQuery))
	}
	return s.users.SearchPatients(ctx, query, patientSearchSize)
}

func (s *Service) ViewPatient(ctx context.Context, id uuid.UUID) (*User, error) {
	if err := s.authorize(ctx, roles.ViewPatients); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.PatientDataViewed,
		fmt.Sprintf("Viewed patient data of %s", u.Name), audit.UserTarget(u.ID, u.Name)); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) SetRedFlag(ctx context.Context, id uuid.UUID, comment string) (*User, error) {
	if err := s.authorize(ctx, roles.WriteClinicalNotes); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	flag := RedFlag{IsPresent: comment != "", Comment: comment}
	return s.clinicalUpdate(ctx, id, func(ctx context.Context, u *User) error {
		if err := s.users.SetRedFlag(ctx, id, flag); err != nil {
			return err
		}
		u.RedFlag = flag
		details := fmt.Sprintf("Cleared red flag for %s", u.Name)
		if flag.IsPresent {
			details = fmt.Sprintf("Set red flag for %s: %s", u.Name, comment)
		}
		return s.audit.Record(ctx, audit.MedicalUpdate, details, audit.UserTarget(u.ID, u.Name))
	})
}

func (s *Service) SetDoctorNotes(ctx context.Context, id uuid.UUID, notes string) (*User, error) {
	if err := s.authorize(ctx, roles.WriteClinicalNotes); err != nil {
		return nil, err
	}
	return s.clinicalUpdate(ctx, id, func(ctx context.Context, u *User) error {
		if err := s.users.SetDoctorNotes(ctx, id, notes); err != nil {
			return err
		}
		u.DoctorNotes = notes
		return s.audit.Record(ctx, audit.InternalNoteUpdate,
			fmt.Sprintf("Updated internal notes for %s", u.Name), audit.UserTarget(u.ID, u.Name))
	})
}

func (s *Service) clinicalUpdate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, u *User) error) (*User, error) {
	var out *User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, "user.updated", "User", out.ID.String(), out.Public(), websocket.TopicUsers)
	return out, nil
}
