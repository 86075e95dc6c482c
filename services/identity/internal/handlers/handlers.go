package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nexom/backend/pkg/config"
	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/services/identity/internal/service"
)

type Handlers struct {
	otpService service.OTPService
	config     *config.Config
}

func New(otpService service.OTPService, config *config.Config) *Handlers {
	return &Handlers{
		otpService: otpService,
		config:     config,
	}
}

// envelope is the fixed response shape of the auth endpoints.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Status)

	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
