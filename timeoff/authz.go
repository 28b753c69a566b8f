package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// AUTHORIZATION - One predicate for every request transition
// =============================================================================

type Action string

const (
	ActionApply   Action = "apply"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
	ActionView    Action = "view"
)

// relation describes how the actor stands to the user the action targets.
type relation struct {
	self    bool
	manager bool
	admin   bool
}

// rule decides one action. Rules are evaluated in order; the first one
// returning a definite answer wins.
type rule func(rel relation) (allowed, decided bool)

func denySelf(rel relation) (bool, bool) {
	if rel.self {
		return false, true
	}
	return false, false
}

func allowSelf(rel relation) (bool, bool) {
	if rel.self {
		return true, true
	}
	return false, false
}

func allowManager(rel relation) (bool, bool) {
	if rel.manager {
		return true, true
	}
	return false, false
}

// allowAdmin is the admin bypass. Actions that must not be bypassed simply
// leave it out of their rule list.
func allowAdmin(rel relation) (bool, bool) {
	if rel.admin {
		return true, true
	}
	return false, false
}

var rules = map[Action][]rule{
	ActionApply:   {allowSelf, allowManager, allowAdmin},
	ActionApprove: {denySelf, allowManager, allowAdmin},
	ActionReject:  {denySelf, allowManager, allowAdmin},
	ActionCancel:  {allowSelf},
	ActionView:    {allowSelf, allowManager, allowAdmin},
}

// Authorizer evaluates whether actorID may perform action on targetUserID's
// leave. Roles, reporting lines and the active flag come from the store, not
// from the caller.
type Authorizer struct{}

func (Authorizer) Authorize(ctx context.Context, r Reader, action Action, actorID, targetUserID string) error {
	checks, ok := rules[action]
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}

	rel := relation{self: actorID == targetUserID}

	actor, err := r.GetUser(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to load actor: %w", err)
	}
	if actor == nil && rel.self {
		return &generic.NotFoundError{Entity: "user", ID: targetUserID}
	}
	// A deactivated user keeps their rows but may not act, not even on
	// their own leave.
	if actor == nil || !actor.IsActive {
		return deny(action, actorID, targetUserID)
	}
	rel.admin = actor.Role == RoleAdmin

	if !rel.self {
		target, err := r.GetUser(ctx, targetUserID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if target == nil {
			return &generic.NotFoundError{Entity: "user", ID: targetUserID}
		}
		rel.manager = target.ReportsTo(actorID)
	}

	for _, check := range checks {
		if allowed, decided := check(rel); decided {
			if allowed {
				return nil
			}
			return deny(action, actorID, targetUserID)
		}
	}
	return deny(action, actorID, targetUserID)
}

func deny(action Action, actorID, targetUserID string) error {
	return &generic.AuthorizationError{ActorID: actorID, TargetID: targetUserID, Action: string(action)}
}
