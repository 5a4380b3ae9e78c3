// Package handlers implements the REST endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
	"github.com/dodge1218/prompt-intelligence/internal/validation"
	"github.com/dodge1218/prompt-intelligence/pkg/api"
	"github.com/dodge1218/prompt-intelligence/pkg/auth"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads an optional JSON body into dst and validates it. An
// empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Validation(apperrors.CodeInvalidInput, "invalid request body").
			WithDetails(err.Error()).
			Build()
	}
	return validation.Struct(dst)
}

// userID returns the authenticated caller or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		api.Error(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return user.UserID, true
}

// intQuery parses a positive integer query parameter, falling back to def
// and capping at max.
func intQuery(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.Validation(apperrors.CodeInvalidInput, "invalid query parameter").
			WithDetails(name + " must be a positive integer").
			Build()
	}
	if n > max {
		n = max
	}
	return n, nil
}
