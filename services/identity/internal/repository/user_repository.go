package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexom/backend/services/identity/internal/domain"
)

type UserRepository interface {
	// FindOrCreateByEmail returns the identity for an email, creating it on
	// first sight. Email is immutable once set.
	FindOrCreateByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindByEmail includes the OTP columns; only the OTP issuer may use it.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindPublicByID never selects the OTP columns. It is the only read the
	// lookup bridge is allowed to perform.
	FindPublicByID(ctx context.Context, id int64) (*domain.User, error)
	// SetOTP stores a new hashed code with its expiry and stamps the
	// issuance instant used for the resend cooldown.
	SetOTP(ctx context.Context, email, hash string, expiresAt time.Time) error
	// ConsumeOTP atomically clears the stored code, but only if the hash
	// still matches and the code has not expired. Returns false when another
	// verification got there first or the code lapsed.
	ConsumeOTP(ctx context.Context, email, hash string) (bool, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userCols = `id, email, otp_hash, otp_expires_at, last_otp_sent_at, created_at, updated_at`
const publicUserCols = `id, email, created_at, updated_at`

func (r *userRepository) FindOrCreateByEmail(ctx context.Context, email string) (*domain.User, error) {
	// The no-op DO UPDATE makes RETURNING yield the row in both the insert
	// and the conflict case.
	const q = `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = users.email
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.OTPHash, &u.OTPExpiresAt, &u.LastOTPSentAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE email = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.OTPHash, &u.OTPExpiresAt, &u.LastOTPSentAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindPublicByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + publicUserCols + ` FROM users WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.User
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) SetOTP(ctx context.Context, email, hash string, expiresAt time.Time) error {
	const q = `
		UPDATE users
		SET otp_hash = $2, otp_expires_at = $3, last_otp_sent_at = now(), updated_at = now()
		WHERE email = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, email, hash, expiresAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}

func (r *userRepository) ConsumeOTP(ctx context.Context, email, hash string) (bool, error) {
	const q = `
		UPDATE users
		SET otp_hash = NULL, otp_expires_at = NULL, updated_at = now()
		WHERE email = $1 AND otp_hash = $2 AND otp_expires_at > now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, email, hash)
	if err != nil {
		return false, err
	}

	return result.RowsAffected() == 1, nil
}
