package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/souqly/settlements-backend/api/middleware"
	"github.com/souqly/settlements-backend/pkg/outbox"
)

// actorFromContext builds the event actor from the authenticated request
// context. Returns nil when no authenticated user is present.
func actorFromContext(ctx context.Context) *outbox.ActorRef {
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return nil
	}

	actor := &outbox.ActorRef{
		UserID: userID,
		Role:   middleware.RoleFromContext(ctx),
	}
	if accountID, err := uuid.Parse(middleware.AccountIDFromContext(ctx)); err == nil {
		actor.AccountID = &accountID
	}
	return actor
}

// accountIDFromContext parses the caller's earnings account id. Payee routes
// are behind middleware that guarantees the claim is present.
func accountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(middleware.AccountIDFromContext(ctx))
	if err != nil || accountID == uuid.Nil {
		return uuid.Nil, false
	}
	return accountID, true
}
