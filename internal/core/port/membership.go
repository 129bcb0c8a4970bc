package port

import (
	"context"

	"github.com/avask/ringline/internal/core/domain"
)

// Membership answers whether a user may take part in calls on a target.
// Backed by whatever owns the conversation/group/room rosters.
type Membership interface {
	IsMember(ctx context.Context, callType domain.CallType, target domain.TargetID, user domain.UserID) (bool, error)
}
