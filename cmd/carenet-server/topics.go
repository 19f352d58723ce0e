package main

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/websocket"
)

func worksInOrg(a *roles.Actor) bool {
	for _, r := range a.Roles {
		if r.IsStaff() || r == roles.OrgOwner {
			return true
		}
	}
	return false
}

// refreshActor reloads the connection's actor before every check, so a
// socket opened before a role or membership change cannot keep its access.
func refreshActor(resolve func(context.Context, uuid.UUID) (*roles.Actor, error), next websocket.Authorizer) websocket.Authorizer {
	return func(ctx context.Context, topic string) bool {
		actor, ok := roles.ActorFromContext(ctx)
		if !ok {
			return false
		}
		current, err := resolve(ctx, actor.ID)
		if err != nil {
			return false
		}
		return next(roles.WithActor(ctx, current), topic)
	}
}

// topicAuthorizer decides which real-time topics the connecting actor may
// follow. Broad feeds are admin-only; org feeds need membership.
func (a *app) topicAuthorizer() websocket.Authorizer {
	return func(ctx context.Context, topic string) bool {
		actor, ok := roles.ActorFromContext(ctx)
		if !ok {
			return false
		}
		if actor.IsAdmin() {
			return true
		}

		base, arg, scoped := strings.Cut(topic, ":")
		if !scoped {
			switch topic {
			case websocket.TopicSchedules:
				return true
			case websocket.TopicAppointments, websocket.TopicInvestigations:
				return worksInOrg(actor)
			default:
				return false
			}
		}

		switch base {
		case "records":
			return arg == actor.ID.String()
		case websocket.TopicOrganizations:
			orgID, err := uuid.Parse(arg)
			if err != nil {
				return false
			}
			member, err := a.organizations.IsMember(ctx, actor, orgID)
			return err == nil && member
		case websocket.TopicAuditLogs:
			orgID, err := uuid.Parse(arg)
			if err != nil {
				return false
			}
			return a.organizations.Authorize(ctx, actor, orgID, roles.ViewOrgAudit) == nil
		}
		return false
	}
}
