package api

import (
	"context"

	"todo-api/domain"
	"todo-api/identity"
	"todo-api/todo"
)

// Sessions resolves a user to their task store.
type Sessions interface {
	Acquire(ctx context.Context, user domain.User) (*todo.Store, error)
	Release(ctx context.Context, userID string)
	Len() int
}

// Authenticator verifies the Authorization header of a request.
type Authenticator interface {
	ClaimsFromAuthHeader(string) (identity.Claims, error)
}

// Accounts is the auth provider behind the /api/auth routes.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (domain.User, error)
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	SignOut(ctx context.Context, c identity.Claims) error
	CurrentUser(ctx context.Context, c identity.Claims) (domain.User, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the create failed.
	Remove(ctx context.Context, userID, key string) error
}
