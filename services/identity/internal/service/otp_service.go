package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nexom/backend/pkg/apperr"
	"github.com/nexom/backend/pkg/auth"
	"github.com/nexom/backend/pkg/config"
	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/services/identity/internal/domain"
	"github.com/nexom/backend/services/identity/internal/mailer"
	"github.com/nexom/backend/services/identity/internal/repository"
)

// OTPService owns the one-time-code state machine: issue, resend with a
// cooldown, and single-use verification that ends in a signed login token.
type OTPService interface {
	RequestCode(ctx context.Context, req *domain.SendOTPRequest) error
	ResendCode(ctx context.Context, req *domain.SendOTPRequest) error
	VerifyCode(ctx context.Context, req *domain.VerifyOTPRequest) (string, error)
}

type otpService struct {
	userRepo repository.UserRepository
	sender   mailer.Sender
	config   *config.Config
}

var validate = validator.New()

func NewOTPService(
	userRepo repository.UserRepository,
	sender mailer.Sender,
	config *config.Config,
) OTPService {
	return &otpService{
		userRepo: userRepo,
		sender:   sender,
		config:   config,
	}
}

func (s *otpService) RequestCode(ctx context.Context, req *domain.SendOTPRequest) error {
	req.Normalize()
	if err := validate.Struct(req); err != nil {
		return apperr.Validation("A valid email is required.")
	}

	user, err := s.userRepo.FindOrCreateByEmail(ctx, req.Email)
	if err != nil {
		return apperr.Store(fmt.Errorf("failed to find or create user: %w", err))
	}

	return s.issueCode(ctx, user.Email)
}

func (s *otpService) ResendCode(ctx context.Context, req *domain.SendOTPRequest) error {
	req.Normalize()
	if err := validate.Struct(req); err != nil {
		return apperr.Validation("A valid email is required.")
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return apperr.Store(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return apperr.NotFound("User does not exist.")
	}

	// Cooldown is measured from the previous issuance instant, not from
	// request receipt.
	if user.LastOTPSentAt != nil {
		elapsed := time.Since(*user.LastOTPSentAt)
		if elapsed < s.config.Auth.ResendCooldown {
			wait := int(math.Ceil((s.config.Auth.ResendCooldown - elapsed).Seconds()))
			return apperr.RateLimited(wait)
		}
	}

	return s.issueCode(ctx, user.Email)
}

func (s *otpService) VerifyCode(ctx context.Context, req *domain.VerifyOTPRequest) (string, error) {
	req.Normalize()
	if err := validate.Struct(req); err != nil {
		return "", apperr.Validation("Email and OTP are required!")
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return "", apperr.Store(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return "", apperr.NotFound("User does not exist")
	}

	if !user.HasPendingCode() {
		return "", apperr.InvalidCredential()
	}

	hash := hashOTP(req.OTP)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(*user.OTPHash)) != 1 {
		return "", apperr.InvalidCredential()
	}
	if !user.OTPExpiresAt.After(time.Now()) {
		return "", apperr.InvalidCredential()
	}

	// The conditional clear is what makes a code single-use: when two
	// verifications race, only one sees RowsAffected == 1.
	consumed, err := s.userRepo.ConsumeOTP(ctx, user.Email, hash)
	if err != nil {
		return "", apperr.Store(fmt.Errorf("failed to consume OTP: %w", err))
	}
	if !consumed {
		return "", apperr.InvalidCredential()
	}

	token, err := auth.NewLoginToken(user.ID, user.Email, s.config.Auth.JWTSecret, s.config.Auth.LoginTokenTTL)
	if err != nil {
		return "", apperr.Store(fmt.Errorf("failed to sign login token: %w", err))
	}

	logger.InfoContext(ctx, "OTP verified", "user_id", user.ID)
	return token, nil
}

// issueCode generates, stores and dispatches a fresh code. The hash is
// persisted before dispatch so a failed delivery leaves a resendable code
// behind, but the call itself still fails.
func (s *otpService) issueCode(ctx context.Context, email string) error {
	code, err := generateOTP()
	if err != nil {
		return apperr.Store(fmt.Errorf("failed to generate OTP: %w", err))
	}

	expiresAt := time.Now().Add(s.config.Auth.OTPTTL)
	if err := s.userRepo.SetOTP(ctx, email, hashOTP(code), expiresAt); err != nil {
		return apperr.Store(fmt.Errorf("failed to store OTP: %w", err))
	}

	if err := s.sender.SendOTP(email, code); err != nil {
		logger.ErrorContext(ctx, "Failed to send OTP email", "error", err, "email", email)
		return apperr.Delivery(err)
	}

	return nil
}

// generateOTP returns a uniformly random 6-digit code in [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
