package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nexom/backend/pkg/apperr"
	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/services/identity/internal/domain"
)

// SendOTP handles POST /auth/send-otp
func (h *Handlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, envelope{Status: http.StatusBadRequest, Message: "Email is required!"})
		return
	}

	if err := h.otpService.RequestCode(r.Context(), &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeEnvelope(w, envelope{Status: http.StatusOK, Message: "OTP sent successfully."})
}

// ResendOTP handles POST /auth/resend-otp
func (h *Handlers) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, envelope{Status: http.StatusBadRequest, Message: "Email is required!"})
		return
	}

	if err := h.otpService.ResendCode(r.Context(), &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeEnvelope(w, envelope{Status: http.StatusOK, Message: "OTP resent successfully."})
}

// VerifyOTP handles POST /auth/verify-otp
func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, envelope{Status: http.StatusBadRequest, Message: "Email and OTP are required!"})
		return
	}

	token, err := h.otpService.VerifyCode(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Cookie lifetime matches the token lifetime; a refresh flow, not a
	// long-lived cookie, is the way to extend a session.
	http.SetCookie(w, &http.Cookie{
		Name:     "jwt",
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.config.Auth.LoginTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	writeEnvelope(w, envelope{
		Status:  http.StatusOK,
		Message: "Logged in successfully!",
		Token:   token,
	})
}

// writeError maps a service error onto the JSON envelope. Internal detail
// stays in the logs; the caller only sees the taxonomy message.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)

	if ae.Kind == apperr.KindStore || ae.Kind == apperr.KindDelivery {
		logger.ErrorContext(r.Context(), "auth request failed", "error", err, "path", r.URL.Path)
	}

	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}

	writeEnvelope(w, envelope{Status: ae.Status(), Message: ae.Message})
}
