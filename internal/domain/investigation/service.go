package investigation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/websocket"
)

type Auditor interface {
	Record(ctx context.Context, action audit.Action, details string, target audit.Target) error
}

// OrgAccess is the organization-scoped permission check.
type OrgAccess interface {
	Authorize(ctx context.Context, actor *roles.Actor, orgID uuid.UUID, c roles.Capability) error
}

type Service struct {
	repo     Repository
	orgs     OrgAccess
	tx       db.Transactor
	audit    Auditor
	notifier *websocket.Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(repo Repository, orgs OrgAccess, tx db.Transactor, auditor Auditor,
	notifier *websocket.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		orgs:     orgs,
		tx:       tx,
		audit:    auditor,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With().Str("component", "investigation").Logger(),
	}
}

func target(inv *Investigation) audit.Target {
	return audit.Target{Type: audit.TargetInvestigation, ID: inv.ID, Name: inv.TestName, OrgID: inv.OrgID}
}

func (s *Service) publish(ctx context.Context, eventType string, inv *Investigation) {
	s.notifier.Notify(ctx, eventType, "Investigation", inv.ID.String(), inv,
		websocket.TopicInvestigations, websocket.OrgTopic(inv.OrgID.String()))
}

func (s *Service) Request(ctx context.Context, in RequestInput) (*Investigation, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.orgs.Authorize(ctx, actor, in.OrgID, roles.RequestInvestigations); err != nil {
		return nil, err
	}

	inv := &Investigation{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		OrgID:     in.OrgID,
		TestName:  in.TestName,
		Status:    StatusRequested,
		OrderedBy: actor.ID,
		OrderedAt: s.now().UTC(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, inv); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.InvestigationRequested,
			fmt.Sprintf("Requested %s for patient %s", inv.TestName, inv.PatientID), target(inv))
	})
	if err != nil {
		return nil, fmt.Errorf("request investigation: %w", err)
	}
	s.publish(ctx, "investigation.requested", inv)
	return inv, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, in CompleteInput) (*Investigation, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.orgs.Authorize(ctx, actor, current.OrgID, roles.CompleteInvestigations); err != nil {
		return nil, err
	}
	if current.Status == StatusCompleted {
		return nil, fmt.Errorf("investigation %s already completed: %w", id, domain.ErrConflict)
	}

	var done *Investigation
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if done, err = s.repo.Complete(ctx, id, in, s.now().UTC()); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.InvestigationCompleted, "Completed "+done.TestName, target(done))
	})
	if err != nil {
		return nil, fmt.Errorf("complete investigation: %w", err)
	}
	s.publish(ctx, "investigation.completed", done)
	return done, nil
}

// List scopes non-admins: an org filter needs ViewInvestigations there,
// otherwise the actor only sees their own investigations as a patient.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]Investigation, int, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.NewValidationError("status", "must be Requested or Completed")
	}
	switch {
	case actor.IsAdmin():
	case f.OrgID != nil:
		if err := s.orgs.Authorize(ctx, actor, *f.OrgID, roles.ViewInvestigations); err != nil {
			return nil, 0, err
		}
	default:
		self := actor.ID
		f.PatientID = &self
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Pending is the pathology queue for one organization.
func (s *Service) Pending(ctx context.Context, orgID uuid.UUID) ([]Investigation, error) {
	list, _, err := s.List(ctx, Filter{OrgID: &orgID, Status: StatusRequested}, 200, 0)
	return list, err
}
