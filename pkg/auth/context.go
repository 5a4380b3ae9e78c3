package auth

import (
	"context"
	"errors"
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID string
	Email  string
	Role   string
}

// Verifier turns a bearer token into a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*UserContext, error)
}

type contextKey string

const userContextKey contextKey = "user"

// SetUserInContext adds user to ctx.
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext extracts the user set by SetUserInContext.
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, errors.New("user not found in context")
	}
	return user, nil
}
