package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexom/backend/pkg/apperr"
	"github.com/nexom/backend/pkg/auth"
	"github.com/nexom/backend/pkg/config"
	"github.com/nexom/backend/services/identity/internal/domain"
)

// ---------- Mocks ----------

type mockUserRepo struct {
	mu      sync.Mutex
	nextID  int64
	users   map[string]*domain.User
	findErr error
	setErr  error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		nextID: 1,
		users:  make(map[string]*domain.User),
	}
}

func (m *mockUserRepo) FindOrCreateByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if u, ok := m.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	now := time.Now()
	u := &domain.User{ID: m.nextID, Email: email, CreatedAt: now, UpdatedAt: now}
	m.nextID++
	m.users[email] = u
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) FindPublicByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return &domain.User{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) SetOTP(_ context.Context, email, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	u, ok := m.users[email]
	if !ok {
		return errors.New("no rows")
	}
	now := time.Now()
	u.OTPHash = &hash
	u.OTPExpiresAt = &expiresAt
	u.LastOTPSentAt = &now
	u.UpdatedAt = now
	return nil
}

// ConsumeOTP mirrors the conditional UPDATE: the clear only happens when the
// hash still matches and the expiry is in the future, under one lock.
func (m *mockUserRepo) ConsumeOTP(_ context.Context, email, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok || u.OTPHash == nil || u.OTPExpiresAt == nil {
		return false, nil
	}
	if *u.OTPHash != hash || !u.OTPExpiresAt.After(time.Now()) {
		return false, nil
	}
	u.OTPHash = nil
	u.OTPExpiresAt = nil
	u.UpdatedAt = time.Now()
	return true, nil
}

// stored returns the raw record, bypassing the repository interface.
func (m *mockUserRepo) stored(email string) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email]
}

func (m *mockUserRepo) backdateLastSent(email string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := time.Now().Add(-d)
	m.users[email].LastOTPSentAt = &t
}

func (m *mockUserRepo) expireCode(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := time.Now().Add(-time.Second)
	m.users[email].OTPExpiresAt = &t
}

type mockSender struct {
	mu       sync.Mutex
	lastTo   string
	lastCode string
	sent     int
	sendErr  error
}

func (m *mockSender) SendOTP(toEmail, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.lastTo = toEmail
	m.lastCode = code
	m.sent++
	return nil
}

// ---------- Helpers ----------

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret",
			LoginTokenTTL:  15 * time.Minute,
			OTPTTL:         5 * time.Minute,
			ResendCooldown: 60 * time.Second,
		},
	}
}

func newTestService() (OTPService, *mockUserRepo, *mockSender) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	return NewOTPService(repo, sender, testConfig()), repo, sender
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.From(err).Kind)
}

// ---------- Tests ----------

func TestRequestCodeThenVerifySucceedsOnce(t *testing.T) {
	svc, _, sender := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"}))
	require.Len(t, sender.lastCode, 6)
	assert.Equal(t, "a@b.com", sender.lastTo)

	token, err := svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: sender.lastCode})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.Parse(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, int64(1), claims.ID)

	// Same code a second time fails: single use.
	_, err = svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: sender.lastCode})
	requireKind(t, err, apperr.KindInvalidCredential)
}

func TestStoredCodeIsNeverPlaintext(t *testing.T) {
	svc, repo, sender := newTestService()

	require.NoError(t, svc.RequestCode(context.Background(), &domain.SendOTPRequest{Email: "a@b.com"}))

	u := repo.stored("a@b.com")
	require.NotNil(t, u.OTPHash)
	require.NotNil(t, u.OTPExpiresAt)

	assert.NotEqual(t, sender.lastCode, *u.OTPHash)
	assert.Len(t, *u.OTPHash, 64)

	sum := sha256.Sum256([]byte(sender.lastCode))
	assert.Equal(t, hex.EncodeToString(sum[:]), *u.OTPHash)
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, repo, sender := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"}))
	repo.expireCode("a@b.com")

	_, err := svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: sender.lastCode})
	requireKind(t, err, apperr.KindInvalidCredential)
}

func TestResendCooldown(t *testing.T) {
	svc, repo, sender := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"}))
	firstCode := sender.lastCode

	// Immediately after the initial request the cooldown applies.
	err := svc.ResendCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"})
	requireKind(t, err, apperr.KindRateLimited)

	ae := apperr.From(err)
	assert.InDelta(t, 60, ae.RetryAfter, 1)
	assert.Contains(t, ae.Message, "seconds before resending")

	// After the cooldown a resend succeeds and invalidates the old code.
	repo.backdateLastSent("a@b.com", 61*time.Second)
	require.NoError(t, svc.ResendCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"}))
	require.NotEqual(t, firstCode, sender.lastCode)

	_, err = svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: firstCode})
	requireKind(t, err, apperr.KindInvalidCredential)

	token, err := svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: sender.lastCode})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestResendUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.ResendCode(context.Background(), &domain.SendOTPRequest{Email: "nobody@b.com"})
	requireKind(t, err, apperr.KindNotFound)
}

func TestRequestCodeInvalidEmail(t *testing.T) {
	svc, _, sender := newTestService()

	err := svc.RequestCode(context.Background(), &domain.SendOTPRequest{Email: "not-an-email"})
	requireKind(t, err, apperr.KindValidation)
	assert.Zero(t, sender.sent)
}

func TestRequestCodeDeliveryFailure(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{sendErr: errors.New("smtp down")}
	svc := NewOTPService(repo, sender, testConfig())

	err := svc.RequestCode(context.Background(), &domain.SendOTPRequest{Email: "a@b.com"})
	requireKind(t, err, apperr.KindDelivery)

	// The hash was stored before dispatch, so a manual resend stays possible.
	u := repo.stored("a@b.com")
	require.NotNil(t, u.OTPHash)
	require.NotNil(t, u.OTPExpiresAt)
}

func TestVerifyMissingFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com"})
	requireKind(t, err, apperr.KindValidation)

	_, err = svc.VerifyCode(ctx, &domain.VerifyOTPRequest{OTP: "123456"})
	requireKind(t, err, apperr.KindValidation)
}

func TestVerifyUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.VerifyCode(context.Background(), &domain.VerifyOTPRequest{Email: "nobody@b.com", OTP: "123456"})
	requireKind(t, err, apperr.KindNotFound)
}

func TestVerifyWithoutPendingCode(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := repo.FindOrCreateByEmail(ctx, "a@b.com")
	require.NoError(t, err)

	_, err = svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: "123456"})
	requireKind(t, err, apperr.KindInvalidCredential)
}

func TestConcurrentVerifyConsumesOnce(t *testing.T) {
	svc, _, sender := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestCode(ctx, &domain.SendOTPRequest{Email: "a@b.com"}))
	code := sender.lastCode

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyCode(ctx, &domain.VerifyOTPRequest{Email: "a@b.com", OTP: code})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, invalid int
	for err := range results {
		if err == nil {
			successes++
		} else if apperr.From(err).Kind == apperr.KindInvalidCredential {
			invalid++
		}
	}

	assert.Equal(t, 1, successes, "exactly one verification must win")
	assert.Equal(t, 1, invalid, "the loser must see the generic credential error")
}

func TestGenerateOTPRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}
