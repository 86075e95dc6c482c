package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/pkg/lookup"
	"github.com/nexom/backend/services/catalog/internal/middleware"
)

type Handlers struct {
	requester *lookup.Requester
}

func New(requester *lookup.Requester) *Handlers {
	return &Handlers{requester: requester}
}

// Profile resolves the authenticated user's details through the identity
// lookup queue instead of calling the identity service directly.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		writeMessage(w, http.StatusUnauthorized, "Authentication required. Please provide a valid token.")
		return
	}

	if h.requester == nil {
		writeMessage(w, http.StatusServiceUnavailable, "User lookup is temporarily unavailable.")
		return
	}

	user, err := h.requester.FetchUser(r.Context(), strconv.FormatInt(claims.ID, 10))
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User does not exist.")
			return
		}
		logger.ErrorContext(r.Context(), "User lookup failed", "error", err, "user_id", claims.ID)
		writeMessage(w, http.StatusBadGateway, "Failed to fetch user details.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status": http.StatusOK,
		"user":   user,
	}); err != nil {
		logger.Error("failed to encode profile response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"message": message,
	}); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
