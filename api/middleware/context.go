package middleware

import (
	"context"

	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// ActorFromContext returns the authenticated caller; ok is false when Auth did
// not run or the stored id is malformed.
func ActorFromContext(ctx context.Context) (uuid.UUID, enums.ActorRole, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, "", false
	}
	role := RoleFromContext(ctx)
	if !role.IsUserRole() {
		return uuid.Nil, "", false
	}
	return id, role, true
}

// WithActor injects the caller identity, mainly for handler tests.
func WithActor(ctx context.Context, userID uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID.String())
	return context.WithValue(ctx, ctxRole, role)
}

// Actor returns the authenticated caller as an order actor.
func Actor(ctx context.Context) (orders.Actor, error) {
	id, role, ok := ActorFromContext(ctx)
	if !ok {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return orders.Actor{UserID: id, Role: role}, nil
}
