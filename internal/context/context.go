package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID
	AccountIDKey ContextKey = "account_id"
	// MainAccountIDKey is the context key for the parent account ID when
	// the authenticated principal is a sub-account
	MainAccountIDKey ContextKey = "main_account_id"
	// RoleKey is the context key for the account role label
	RoleKey ContextKey = "role"
	// EntityTypeKey is the context key for the account entity type
	EntityTypeKey ContextKey = "entity_type"
)

// ExtractAccountID extracts the account ID from the request context
func ExtractAccountID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(AccountIDKey).(uint64)
	return id, ok
}

// ExtractMainAccountID extracts the main account ID from the request context
func ExtractMainAccountID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(MainAccountIDKey).(uint64)
	return id, ok
}

// ExtractRole extracts the role label from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}
