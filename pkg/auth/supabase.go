package auth

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// UserFetcher resolves a token to a user id and email.
type UserFetcher func(token string) (userID, email string, err error)

// SupabaseVerifier asks Supabase Auth who owns a token.
type SupabaseVerifier struct {
	fetch UserFetcher
}

// NewSupabaseVerifier verifies tokens with client's GoTrue endpoint.
func NewSupabaseVerifier(client *supabase.Client) *SupabaseVerifier {
	return NewSupabaseVerifierFunc(func(token string) (string, string, error) {
		user, err := client.Auth.WithToken(token).GetUser()
		if err != nil {
			return "", "", err
		}
		return user.ID.String(), user.Email, nil
	})
}

// NewSupabaseVerifierFunc builds a verifier around fetch.
func NewSupabaseVerifierFunc(fetch UserFetcher) *SupabaseVerifier {
	return &SupabaseVerifier{fetch: fetch}
}

// Verify implements Verifier.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*UserContext, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID, email, err := v.fetch(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user ID", ErrInvalidClaims)
	}
	return &UserContext{UserID: userID, Email: email, Role: "authenticated"}, nil
}
