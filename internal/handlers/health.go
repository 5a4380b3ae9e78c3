package handlers

import (
	"net/http"

	"github.com/dodge1218/prompt-intelligence/pkg/api"
)

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	api.Success(w, http.StatusOK, map[string]string{"status": "healthy"})
}
