package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	return req
}

// WithAuthContext adds access-token claims to the request context
func WithAuthContext(req *http.Request, userID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		UserID:    userID,
		Email:     "user@example.com",
		SessionID: sessionID,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	SignUpFunc                   func(ctx context.Context, in services.SignUpInput) (*models.AuthResponse, error)
	LoginFunc                    func(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RequestLoginCodeFunc         func(ctx context.Context, email string) error
	RequestPasswordRecoveryFunc  func(ctx context.Context, email string) error
	FinalizeAuthFunc             func(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error)
	CompletePasswordRecoveryFunc func(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error)
	RefreshFunc                  func(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
	LogoutFunc                   func(ctx context.Context, access *models.TokenClaims, refreshToken string) error
}

func (m *MockAuthService) SignUp(ctx context.Context, in services.SignUpInput) (*models.AuthResponse, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) RequestLoginCode(ctx context.Context, email string) error {
	if m.RequestLoginCodeFunc != nil {
		return m.RequestLoginCodeFunc(ctx, email)
	}
	return nil
}

func (m *MockAuthService) RequestPasswordRecovery(ctx context.Context, email string) error {
	if m.RequestPasswordRecoveryFunc != nil {
		return m.RequestPasswordRecoveryFunc(ctx, email)
	}
	return nil
}

func (m *MockAuthService) FinalizeAuth(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error) {
	if m.FinalizeAuthFunc != nil {
		return m.FinalizeAuthFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) CompletePasswordRecovery(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error) {
	if m.CompletePasswordRecoveryFunc != nil {
		return m.CompletePasswordRecoveryFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockAuthService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, access, refreshToken)
	}
	return nil
}

// MockStepUpService implements StepUpServiceInterface for testing
type MockStepUpService struct {
	EvaluateFunc         func(ctx context.Context, userID, sessionID string) (trust.StepUpDecision, error)
	RequestChallengeFunc func(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID string) (bool, error)
	VerifyFunc           func(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, secret string) (time.Time, error)
}

func (m *MockStepUpService) Evaluate(ctx context.Context, userID, sessionID string) (trust.StepUpDecision, error) {
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, userID, sessionID)
	}
	return trust.StepUpDecision{Reason: trust.ReasonWithinGracePeriod}, nil
}

func (m *MockStepUpService) RequestChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID string) (bool, error) {
	if m.RequestChallengeFunc != nil {
		return m.RequestChallengeFunc(ctx, userID, sessionID, method, factorID)
	}
	return false, nil
}

func (m *MockStepUpService) Verify(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, secret string) (time.Time, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, sessionID, method, factorID, secret)
	}
	return time.Now(), nil
}

// MockDeviceSessionService implements DeviceSessionServiceInterface for testing
type MockDeviceSessionService struct {
	VerifyDeviceFunc     func(ctx context.Context, user *models.User, sessionID, code string) (*models.DeviceSession, error)
	ResendDeviceCodeFunc func(ctx context.Context, user *models.User, sessionID string) error
	ListSessionsFunc     func(ctx context.Context, userID, currentSessionID string) ([]models.DeviceSessionResponse, error)
	RevokeSessionFunc    func(ctx context.Context, userID, sessionID, currentSessionID string) error
}

func (m *MockDeviceSessionService) VerifyDevice(ctx context.Context, user *models.User, sessionID, code string) (*models.DeviceSession, error) {
	if m.VerifyDeviceFunc != nil {
		return m.VerifyDeviceFunc(ctx, user, sessionID, code)
	}
	return nil, models.ErrInvalidCode
}

func (m *MockDeviceSessionService) ResendDeviceCode(ctx context.Context, user *models.User, sessionID string) error {
	if m.ResendDeviceCodeFunc != nil {
		return m.ResendDeviceCodeFunc(ctx, user, sessionID)
	}
	return nil
}

func (m *MockDeviceSessionService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.DeviceSessionResponse, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, userID, currentSessionID)
	}
	return nil, nil
}

func (m *MockDeviceSessionService) RevokeSession(ctx context.Context, userID, sessionID, currentSessionID string) error {
	if m.RevokeSessionFunc != nil {
		return m.RevokeSessionFunc(ctx, userID, sessionID, currentSessionID)
	}
	return nil
}

// MockAccountService implements AccountServiceInterface and UserLookup for testing
type MockAccountService struct {
	GetUserFunc            func(ctx context.Context, userID string) (*models.User, error)
	ChangePasswordFunc     func(ctx context.Context, userID, sessionID, newPassword string) error
	ChangeEmailFunc        func(ctx context.Context, userID, newEmail string) error
	ConfirmEmailChangeFunc func(ctx context.Context, userID, sessionID, code string) (*models.User, error)
	DeleteAccountFunc      func(ctx context.Context, userID, ipAddress string) error
	ListIdentitiesFunc     func(ctx context.Context, userID string) ([]models.Identity, error)
	DisconnectIdentityFunc func(ctx context.Context, userID, sessionID, identityID string) error
	UploadAvatarFunc       func(ctx context.Context, userID, sessionID, contentType string, body io.Reader, size int64) (*models.User, error)
}

func (m *MockAccountService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return &models.User{ID: userID, Email: "user@example.com", Name: "Test User", EmailVerified: true, Status: models.UserStatusActive}, nil
}

func (m *MockAccountService) ChangePassword(ctx context.Context, userID, sessionID, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, sessionID, newPassword)
	}
	return nil
}

func (m *MockAccountService) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	if m.ChangeEmailFunc != nil {
		return m.ChangeEmailFunc(ctx, userID, newEmail)
	}
	return nil
}

func (m *MockAccountService) ConfirmEmailChange(ctx context.Context, userID, sessionID, code string) (*models.User, error) {
	if m.ConfirmEmailChangeFunc != nil {
		return m.ConfirmEmailChangeFunc(ctx, userID, sessionID, code)
	}
	return nil, models.ErrInvalidCode
}

func (m *MockAccountService) DeleteAccount(ctx context.Context, userID, ipAddress string) error {
	if m.DeleteAccountFunc != nil {
		return m.DeleteAccountFunc(ctx, userID, ipAddress)
	}
	return nil
}

func (m *MockAccountService) ListIdentities(ctx context.Context, userID string) ([]models.Identity, error) {
	if m.ListIdentitiesFunc != nil {
		return m.ListIdentitiesFunc(ctx, userID)
	}
	return []models.Identity{}, nil
}

func (m *MockAccountService) DisconnectIdentity(ctx context.Context, userID, sessionID, identityID string) error {
	if m.DisconnectIdentityFunc != nil {
		return m.DisconnectIdentityFunc(ctx, userID, sessionID, identityID)
	}
	return nil
}

func (m *MockAccountService) UploadAvatar(ctx context.Context, userID, sessionID, contentType string, body io.Reader, size int64) (*models.User, error) {
	if m.UploadAvatarFunc != nil {
		return m.UploadAvatarFunc(ctx, userID, sessionID, contentType, body, size)
	}
	return nil, models.ErrBadRequest
}

// MockEventService implements EventServiceInterface for testing
type MockEventService struct {
	ListFunc func(ctx context.Context, userID string, limit, offset int) (*models.EventPage, error)
}

func (m *MockEventService) List(ctx context.Context, userID string, limit, offset int) (*models.EventPage, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, limit, offset)
	}
	return &models.EventPage{Events: []models.AccountEvent{}, Limit: limit, Offset: offset}, nil
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	ListFactorsFunc           func(ctx context.Context, userID string) (*services.FactorSummary, error)
	EnrollTOTPFunc            func(ctx context.Context, user *models.User, friendlyName string) (*models.MFAEnrollResponse, error)
	EnrollPhoneFunc           func(ctx context.Context, user *models.User, phone, friendlyName string) (*models.MFAEnrollResponse, error)
	VerifyEnrollmentFunc      func(ctx context.Context, user *models.User, sessionID, factorID, code string) (*models.MFAVerifyEnrollmentResponse, error)
	UnenrollFunc              func(ctx context.Context, userID, sessionID, factorID string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID, sessionID string) ([]string, error)
	ChallengeFunc             func(ctx context.Context, userID, factorID string) error
	VerifyChallengeFunc       func(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, code string) error
}

func (m *MockMFAService) ListFactors(ctx context.Context, userID string) (*services.FactorSummary, error) {
	if m.ListFactorsFunc != nil {
		return m.ListFactorsFunc(ctx, userID)
	}
	return &services.FactorSummary{Factors: []models.FactorResponse{}}, nil
}

func (m *MockMFAService) EnrollTOTP(ctx context.Context, user *models.User, friendlyName string) (*models.MFAEnrollResponse, error) {
	if m.EnrollTOTPFunc != nil {
		return m.EnrollTOTPFunc(ctx, user, friendlyName)
	}
	return nil, models.ErrInternalServer
}

func (m *MockMFAService) EnrollPhone(ctx context.Context, user *models.User, phone, friendlyName string) (*models.MFAEnrollResponse, error) {
	if m.EnrollPhoneFunc != nil {
		return m.EnrollPhoneFunc(ctx, user, phone, friendlyName)
	}
	return nil, models.ErrInternalServer
}

func (m *MockMFAService) VerifyEnrollment(ctx context.Context, user *models.User, sessionID, factorID, code string) (*models.MFAVerifyEnrollmentResponse, error) {
	if m.VerifyEnrollmentFunc != nil {
		return m.VerifyEnrollmentFunc(ctx, user, sessionID, factorID, code)
	}
	return nil, models.ErrInvalidCode
}

func (m *MockMFAService) Unenroll(ctx context.Context, userID, sessionID, factorID string) error {
	if m.UnenrollFunc != nil {
		return m.UnenrollFunc(ctx, userID, sessionID, factorID)
	}
	return nil
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID, sessionID string) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, userID, sessionID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockMFAService) Challenge(ctx context.Context, userID, factorID string) error {
	if m.ChallengeFunc != nil {
		return m.ChallengeFunc(ctx, userID, factorID)
	}
	return nil
}

func (m *MockMFAService) VerifyChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, code string) error {
	if m.VerifyChallengeFunc != nil {
		return m.VerifyChallengeFunc(ctx, userID, sessionID, method, factorID, code)
	}
	return models.ErrInvalidCode
}

// MockDataExportService implements DataExportServiceInterface for testing
type MockDataExportService struct {
	RequestFunc func(ctx context.Context, userID, sessionID string) (*models.DataExportRequest, error)
	GetFunc     func(ctx context.Context, userID, id string) (*models.DataExportRequest, error)
}

func (m *MockDataExportService) Request(ctx context.Context, userID, sessionID string) (*models.DataExportRequest, error) {
	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, userID, sessionID)
	}
	return &models.DataExportRequest{ID: "export-1", Status: models.ExportStatusPending}, nil
}

func (m *MockDataExportService) Get(ctx context.Context, userID, id string) (*models.DataExportRequest, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, id)
	}
	return nil, models.ErrNotFound
}
