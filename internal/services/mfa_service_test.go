package services

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/models"
)

// ============================================================================
// Enrollment
// ============================================================================

func TestMFAService_EnrollTOTP_FirstFactorIssuesBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	s := env.seedSession(user.ID, laptop(), true, nil)

	enroll, err := env.mfa.EnrollTOTP(ctx, user, "")
	require.NoError(t, err)
	assert.NotEmpty(t, enroll.Secret)
	assert.NotEmpty(t, enroll.QRCode)

	has, err := env.mfa.HasVerifiedFactors(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, has, "pending enrollment must not count as 2FA")

	_, err = env.mfa.VerifyEnrollment(ctx, user, s.ID, enroll.FactorID, "000000")
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	resp, err := env.mfa.VerifyEnrollment(ctx, user, s.ID, enroll.FactorID, code)
	require.NoError(t, err)
	assert.Len(t, resp.BackupCodes, 4)

	assert.Equal(t, models.AAL2, env.sessions.GetAuthenticatorAssuranceLevel(ctx, s.ID))
	assert.Contains(t, env.eventRepo.Types(), models.EventTwoFactorEnabled)

	summary, err := env.mfa.ListFactors(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, summary.Factors, 1)
	assert.Equal(t, models.FactorStatusVerified, summary.Factors[0].Status)
	assert.Equal(t, 4, summary.BackupCodesRemaining)

	_, err = env.mfa.VerifyEnrollment(ctx, user, s.ID, enroll.FactorID, code)
	assert.ErrorIs(t, err, models.ErrFactorAlreadyVerified)
}

func TestMFAService_EnrollPhone_SecondFactorKeepsBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	env.seedVerifiedTOTP(t, user.ID)
	s := env.seedSession(user.ID, laptop(), true, nil)

	enroll, err := env.mfa.EnrollPhone(ctx, user, "+15551234567", "")
	require.NoError(t, err)
	assert.Equal(t, models.FactorTypePhone, enroll.FactorType)
	require.NotEmpty(t, env.sms.Last())

	resp, err := env.mfa.VerifyEnrollment(ctx, user, s.ID, enroll.FactorID, env.sms.Last())
	require.NoError(t, err)
	assert.Empty(t, resp.BackupCodes)
}

// ============================================================================
// Verification
// ============================================================================

func TestMFAService_BackupCodesAreSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	env.seedVerifiedTOTP(t, user.ID)
	s := env.seedSession(user.ID, laptop(), true, nil)

	codes, err := env.mfa.RegenerateBackupCodes(ctx, user.ID, s.ID)
	require.NoError(t, err)
	require.Len(t, codes, 4)

	require.NoError(t, env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodBackupCode, "", codes[0]))
	assert.Equal(t, models.AAL2, env.sessions.GetAuthenticatorAssuranceLevel(ctx, s.ID))

	err = env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodBackupCode, "", codes[0])
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	summary, err := env.mfa.ListFactors(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.BackupCodesRemaining)
}

func TestMFAService_VerifyChallenge_TOTPReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	factor, secret := env.seedVerifiedTOTP(t, user.ID)
	s := env.seedSession(user.ID, laptop(), true, nil)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	require.NoError(t, env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodTOTP, factor.ID, code))

	err = env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodTOTP, factor.ID, code)
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestMFAService_SMSChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	s := env.seedSession(user.ID, laptop(), true, nil)

	enroll, err := env.mfa.EnrollPhone(ctx, user, "+15551234567", "Work phone")
	require.NoError(t, err)
	_, err = env.mfa.VerifyEnrollment(ctx, user, s.ID, enroll.FactorID, env.sms.Last())
	require.NoError(t, err)

	require.NoError(t, env.mfa.Challenge(ctx, user.ID, enroll.FactorID))
	require.NoError(t, env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodSMS, enroll.FactorID, env.sms.Last()))

	// A TOTP method pointed at a phone factor is refused
	err = env.mfa.VerifyChallenge(ctx, user.ID, s.ID, models.MethodTOTP, enroll.FactorID, "123456")
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)
}

func TestMFAService_Challenge_UnverifiedFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")

	enroll, err := env.mfa.EnrollTOTP(ctx, user, "")
	require.NoError(t, err)

	err = env.mfa.Challenge(ctx, user.ID, enroll.FactorID)
	assert.ErrorIs(t, err, models.ErrMethodNotAvailable)
}

// ============================================================================
// Removal
// ============================================================================

func TestMFAService_Unenroll_LastFactorDropsBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := NewTestUser("user-1", "user@example.com", "Test User")
	factor, _ := env.seedVerifiedTOTP(t, user.ID)
	_, err := env.mfa.RegenerateBackupCodes(ctx, user.ID, "")
	require.NoError(t, err)

	require.NoError(t, env.mfa.Unenroll(ctx, user.ID, "", factor.ID))

	factors, hasBackup, err := env.mfa.TwoFactorState(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, factors)
	assert.False(t, hasBackup)

	remaining, err := env.backupRepo.CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Contains(t, env.eventRepo.Types(), models.EventTwoFactorDisabled)
}

func TestMFAService_RegenerateBackupCodes_RequiresFactor(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mfa.RegenerateBackupCodes(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}
