package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	actorIDKey   ctxKey = "auth_actor_id"
	roleKey      ctxKey = "auth_role"
	accountIDKey ctxKey = "auth_account_id"
)

// ContextWithActor stores the authenticated actor identity in the context.
func ContextWithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
	role = strings.TrimSpace(strings.ToLower(role))
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// ContextWithAccount attaches the client account scope to the context.
func ContextWithAccount(ctx context.Context, accountID string) context.Context {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, accountIDKey, accountID)
}

// ActorIDFromContext extracts the authenticated actor ID from context.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the actor role stored in context.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// AccountIDFromContext returns the client account scope if present.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accountIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
