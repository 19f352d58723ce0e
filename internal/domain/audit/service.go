package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/websocket"
)

// Service appends audit entries attributed to the context actor and serves
// the newest-first read paths.
type Service struct {
	repo      Repository
	notifier  *websocket.Notifier
	feedLimit int
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, notifier *websocket.Notifier, feedLimit int, logger zerolog.Logger) *Service {
	if feedLimit <= 0 {
		feedLimit = 100
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		feedLimit: feedLimit,
		now:       time.Now,
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

// FeedLimit is the cap applied to every read.
func (s *Service) FeedLimit() int { return s.feedLimit }

// Record appends one entry for the actor in ctx. Without an actor it does
// nothing. Inside a transaction the entry commits or rolls back with it.
func (s *Service) Record(ctx context.Context, action Action, details string, target Target) error {
	actor, ok := roles.ActorFromContext(ctx)
	if !ok {
		return nil
	}
	return s.RecordAs(ctx, actor, action, details, target)
}

// RecordAs appends one entry for an explicit actor.
func (s *Service) RecordAs(ctx context.Context, actor *roles.Actor, action Action, details string, target Target) error {
	if actor == nil {
		return nil
	}
	e := &Entry{
		ID:        uuid.New(),
		Timestamp: s.now().UTC(),
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.RoleLabel(),
		Action:    action,
		Details:   details,
	}
	target.apply(e)

	if err := s.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}

	topics := []string{websocket.TopicAuditLogs}
	if e.OrgID != nil {
		topics = append(topics, websocket.OrgAuditTopic(e.OrgID.String()))
	}
	s.notifier.Notify(ctx, "audit.created", "AuditLog", e.ID.String(), e, topics...)
	return nil
}

func (s *Service) clamp(limit int) int {
	if limit <= 0 || limit > s.feedLimit {
		return s.feedLimit
	}
	return limit
}

// Recent returns the newest entries, at most FeedLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	entries, _, err := s.repo.Search(ctx, Filter{}, s.clamp(limit), 0)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ForOrganization returns the newest entries scoped to orgID. Callers check
// access to the organization first.
func (s *Service) ForOrganization(ctx context.Context, orgID uuid.UUID, limit int) ([]Entry, error) {
	entries, _, err := s.repo.Search(ctx, Filter{OrgID: &orgID}, s.clamp(limit), 0)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Search is the admin audit search.
func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := roles.Authorize(actor, roles.ViewAllAudit); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Search(ctx, f, s.clamp(limit), offset)
}
