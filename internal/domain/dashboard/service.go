// Package dashboard assembles the read-only landing views for each role.
// Every view fans its independent reads out concurrently.
package dashboard

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/identity"
	"github.com/carenet/carenet/internal/domain/investigation"
	"github.com/carenet/carenet/internal/domain/organization"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/domain/scheduling"
)

const pendingQueueSize = 50

type Users interface {
	Navigation(ctx context.Context) ([]roles.NavItem, error)
	ListApplications(ctx context.Context, status roles.ApplicationStatus, limit, offset int) ([]identity.PendingApplication, int, error)
	ListUsers(ctx context.Context, f identity.UserFilter, limit, offset int) ([]identity.User, int, error)
}

type Organizations interface {
	AuthorizeCtx(ctx context.Context, orgID uuid.UUID, c roles.Capability) (*roles.Actor, error)
	Get(ctx context.Context, id uuid.UUID) (*organization.Organization, error)
	ForMember(ctx context.Context, userID uuid.UUID) ([]organization.Organization, error)
	StatusCounts(ctx context.Context) (map[organization.Status]int, int, error)
}

type Schedules interface {
	SchedulesByDoctor(ctx context.Context, orgID uuid.UUID) ([]scheduling.DoctorSchedules, error)
	Today(ctx context.Context) ([]scheduling.Appointment, error)
}

type Investigations interface {
	Pending(ctx context.Context, orgID uuid.UUID) ([]investigation.Investigation, error)
}

type AuditFeed interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
	ForOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]audit.Entry, error)
}

type Service struct {
	users  Users
	orgs   Organizations
	sched  Schedules
	labs   Investigations
	feed   AuditFeed
	logger zerolog.Logger
}

func NewService(users Users, orgs Organizations, sched Schedules, labs Investigations, feed AuditFeed, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		orgs:   orgs,
		sched:  sched,
		labs:   labs,
		feed:   feed,
		logger: logger.With().Str("component", "dashboard").Logger(),
	}
}

type OwnerView struct {
	Organization *organization.Organization   `json:"organization"`
	Doctors      []scheduling.DoctorSchedules `json:"doctors"`
	Ledger       organization.Stats           `json:"ledger"`
	Occupancy    organization.Occupancy       `json:"occupancy"`
	Activity     []audit.Entry                `json:"activity"`
}

type AdminView struct {
	PendingApplications []identity.PendingApplication `json:"pending_applications"`
	PendingTotal        int                           `json:"pending_total"`
	StaffUsers          []identity.User               `json:"staff_users"`
	OrgsByStatus        map[organization.Status]int   `json:"orgs_by_status"`
	ExpiredOrgs         int                           `json:"expired_orgs"`
	Activity            []audit.Entry                 `json:"activity"`
}

type PathologyView struct {
	Pending []investigation.Investigation `json:"pending"`
}

type DoctorView struct {
	Organizations []organization.Organization `json:"organizations"`
	Today         []scheduling.Appointment    `json:"today"`
}

func (s *Service) Navigation(ctx context.Context) ([]roles.NavItem, error) {
	return s.users.Navigation(ctx)
}

func (s *Service) Owner(ctx context.Context, orgID uuid.UUID) (*OwnerView, error) {
	if _, err := s.orgs.AuthorizeCtx(ctx, orgID, roles.ViewOrgAudit); err != nil {
		return nil, err
	}
	var v OwnerView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { v.Organization, err = s.orgs.Get(gctx, orgID); return })
	g.Go(func() (err error) { v.Doctors, err = s.sched.SchedulesByDoctor(gctx, orgID); return })
	g.Go(func() (err error) { v.Activity, err = s.feed.ForOrganization(gctx, orgID, 0); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	v.Ledger = organization.Summarize(v.Organization.Ledger)
	v.Occupancy = organization.CountOccupancy(v.Organization.Beds)
	return &v, nil
}

func (s *Service) Admin(ctx context.Context) (*AdminView, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := roles.Authorize(actor, roles.ViewAllAudit); err != nil {
		return nil, err
	}
	var v AdminView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		v.PendingApplications, v.PendingTotal, err = s.users.ListApplications(gctx, roles.ApplicationPending, pendingQueueSize, 0)
		return
	})
	g.Go(func() (err error) {
		v.StaffUsers, _, err = s.users.ListUsers(gctx, identity.UserFilter{StaffOnly: true}, pendingQueueSize, 0)
		return
	})
	g.Go(func() (err error) { v.OrgsByStatus, v.ExpiredOrgs, err = s.orgs.StatusCounts(gctx); return })
	g.Go(func() (err error) { v.Activity, err = s.feed.Recent(gctx, 0); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) Pathology(ctx context.Context, orgID uuid.UUID) (*PathologyView, error) {
	pending, err := s.labs.Pending(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &PathologyView{Pending: pending}, nil
}

func (s *Service) Doctor(ctx context.Context) (*DoctorView, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	var v DoctorView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { v.Organizations, err = s.orgs.ForMember(gctx, actor.ID); return })
	g.Go(func() (err error) { v.Today, err = s.sched.Today(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &v, nil
}
