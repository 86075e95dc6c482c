package domain

import (
	"strings"
	"time"
)

// User is one identity keyed by email. The OTP columns are set and cleared
// together: both nil means no pending code, both set means a code is pending.
type User struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	OTPHash       *string    `json:"-"`
	OTPExpiresAt  *time.Time `json:"-"`
	LastOTPSentAt *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (u *User) HasPendingCode() bool {
	return u.OTPHash != nil && u.OTPExpiresAt != nil
}

type SendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *SendOTPRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

func (r *VerifyOTPRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.OTP = strings.TrimSpace(r.OTP)
}
