package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dodge1218/prompt-intelligence/pkg/api"
	"github.com/dodge1218/prompt-intelligence/pkg/auth"
)

// DevUserHeader names the caller when authentication is disabled.
const DevUserHeader = "X-User-ID"

const anonymousUser = "anonymous"

// Authenticate resolves the bearer token with verifier and stores the user in
// the request context. A nil verifier trusts DevUserHeader instead, for local
// development only.
func Authenticate(verifier auth.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if verifier == nil {
		return devAuthenticate
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				api.Error(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}

			user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err), zap.String("path", r.URL.Path))
				message := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "Token has expired"
				}
				api.Error(w, http.StatusUnauthorized, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.SetUserInContext(r.Context(), user)))
		})
	}
}

func devAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(DevUserHeader))
		if userID == "" {
			userID = anonymousUser
		}
		ctx := auth.SetUserInContext(r.Context(), &auth.UserContext{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
