package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
)

const testPassword = "Str0ng!Passw0rd"

func stepUpUser(t *testing.T, env *testEnv) *models.User {
	t.Helper()
	user := NewTestUserWithPassword("user-1", "user@example.com", "Test User", testPasswordHash(t, testPassword))
	env.withUser(user)
	return user
}

// ============================================================================
// Evaluate
// ============================================================================

func TestStepUpService_Evaluate_GraceExpiredWithoutTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, ptrTime(time.Now().Add(-61*time.Minute)))

	decision, err := env.stepUp.Evaluate(context.Background(), user.ID, s.ID)
	require.NoError(t, err)

	assert.True(t, decision.RequiresVerification)
	assert.Equal(t, trust.ReasonGraceExpired, decision.Reason)
	assert.Equal(t, []models.VerificationFactor{
		{Type: models.MethodPassword},
		{Type: models.MethodEmail},
	}, decision.AvailableMethods)
	require.NotNil(t, decision.DefaultMethod)
	assert.Equal(t, models.MethodPassword, decision.DefaultMethod.Type)
}

func TestStepUpService_Evaluate_WithinGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, ptrTime(time.Now().Add(-10*time.Minute)))

	decision, err := env.stepUp.Evaluate(context.Background(), user.ID, s.ID)
	require.NoError(t, err)
	assert.False(t, decision.RequiresVerification)
	assert.Empty(t, decision.AvailableMethods)
}

func TestStepUpService_Evaluate_NeverVerified(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, nil)

	decision, err := env.stepUp.Evaluate(context.Background(), user.ID, s.ID)
	require.NoError(t, err)
	assert.True(t, decision.RequiresVerification)
}

func TestStepUpService_Evaluate_MissingSessionFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)

	decision, err := env.stepUp.Evaluate(context.Background(), user.ID, "missing")
	require.NoError(t, err)
	assert.True(t, decision.RequiresVerification)
	assert.Equal(t, trust.ReasonSessionMissing, decision.Reason)
}

func TestStepUpService_Evaluate_SessionReadErrorFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, ptrTime(time.Now().Add(-10*time.Minute)))
	env.sessionRepo.GetByIDFunc = func(ctx context.Context, id string) (*models.DeviceSession, error) {
		return nil, errors.New("connection reset")
	}

	decision, err := env.stepUp.Evaluate(ctx, user.ID, s.ID)
	require.NoError(t, err)
	assert.True(t, decision.RequiresVerification)
	assert.Equal(t, trust.ReasonSessionMissing, decision.Reason)
	require.NotNil(t, decision.DefaultMethod)
	assert.Equal(t, models.MethodPassword, decision.DefaultMethod.Type)

	// Nothing can be stamped on a session that cannot be read
	_, err = env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodPassword, "", testPassword)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestStepUpService_Evaluate_TwoFactorMethodsFirst(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)
	factor, _ := env.seedVerifiedTOTP(t, user.ID)
	require.NoError(t, env.backupRepo.Replace(context.Background(), user.ID, []string{"hash"}))
	s := env.seedSession(user.ID, laptop(), true, nil)

	decision, err := env.stepUp.Evaluate(context.Background(), user.ID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.VerificationFactor{
		{Type: models.MethodTOTP, FactorID: factor.ID},
		{Type: models.MethodBackupCode},
	}, decision.AvailableMethods)
}

// ============================================================================
// Verify
// ============================================================================

func TestStepUpService_Verify_PasswordStampsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, ptrTime(time.Now().Add(-61*time.Minute)))

	_, err := env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodPassword, "", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	at, err := env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodPassword, "", testPassword)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), at, 5*time.Second)

	decision, err := env.stepUp.Evaluate(ctx, user.ID, s.ID)
	require.NoError(t, err)
	assert.False(t, decision.RequiresVerification)

	// Password is a first factor; the session stays aal1
	assert.Equal(t, models.AAL1, env.sessions.GetAuthenticatorAssuranceLevel(ctx, s.ID))
	assert.Contains(t, env.eventRepo.Types(), models.EventSensitiveActionVerified)
}

func TestStepUpService_Verify_EmailCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := stepUpUser(t, env)
	s := env.seedSession(user.ID, laptop(), true, nil)

	sent, err := env.stepUp.RequestChallenge(ctx, user.ID, s.ID, models.MethodEmail, "")
	require.NoError(t, err)
	assert.True(t, sent)

	code := env.email.LastCode(models.CodePurposeStepUpEmail)
	require.NotEmpty(t, code)

	_, err = env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodEmail, "", code)
	require.NoError(t, err)
}

func TestStepUpService_Verify_MethodNotOffered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := stepUpUser(t, env)
	env.seedVerifiedTOTP(t, user.ID)
	s := env.seedSession(user.ID, laptop(), true, nil)

	// With 2FA enrolled, password is no longer an accepted proof
	_, err := env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodPassword, "", testPassword)
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)

	_, err = env.stepUp.RequestChallenge(ctx, user.ID, s.ID, models.MethodEmail, "")
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)
}

func TestStepUpService_Verify_EmailNotOfferedWhenUnverified(t *testing.T) {
	env := newTestEnv(t)
	user := NewTestUserWithPassword("user-1", "user@example.com", "Test User", testPasswordHash(t, testPassword))
	user.EmailVerified = false
	env.withUser(user)
	s := env.seedSession(user.ID, laptop(), true, nil)

	_, err := env.stepUp.RequestChallenge(context.Background(), user.ID, s.ID, models.MethodEmail, "")
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)
}

func TestStepUpService_Verify_EmailFallbackForOAuthUserWithUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "oauth@example.com", "OAuth User")
	user.EmailVerified = false
	env.withUser(user)
	s := env.seedSession(user.ID, laptop(), true, nil)

	decision, err := env.stepUp.Evaluate(ctx, user.ID, s.ID)
	require.NoError(t, err)
	require.NotNil(t, decision.DefaultMethod)
	assert.Equal(t, models.MethodEmail, decision.DefaultMethod.Type)

	sent, err := env.stepUp.RequestChallenge(ctx, user.ID, s.ID, models.MethodEmail, "")
	require.NoError(t, err)
	assert.True(t, sent)

	code := env.email.LastCode(models.CodePurposeStepUpEmail)
	require.NotEmpty(t, code)
	_, err = env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodEmail, "", code)
	require.NoError(t, err)

	decision, err = env.stepUp.Evaluate(ctx, user.ID, s.ID)
	require.NoError(t, err)
	assert.False(t, decision.RequiresVerification)
}

func TestStepUpService_Verify_TOTPPromotesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := stepUpUser(t, env)
	factor, secret := env.seedVerifiedTOTP(t, user.ID)
	s := env.seedSession(user.ID, laptop(), true, nil)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	_, err = env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodTOTP, "other-factor", code)
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)

	_, err = env.stepUp.Verify(ctx, user.ID, s.ID, models.MethodTOTP, factor.ID, code)
	require.NoError(t, err)
	assert.Equal(t, models.AAL2, env.sessions.GetAuthenticatorAssuranceLevel(ctx, s.ID))
}

func TestStepUpService_Verify_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	user := stepUpUser(t, env)

	_, err := env.stepUp.Verify(context.Background(), user.ID, "missing", models.MethodPassword, "", testPassword)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}
