package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/handlers"
	"github.com/BradenHooton/trustgate/internal/middleware"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	"github.com/BradenHooton/trustgate/internal/trust"
)

type fakeSessions struct {
	sessions map[string]*models.DeviceSession
}

func (f *fakeSessions) Get(ctx context.Context, userID, sessionID string) (*models.DeviceSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) Touch(ctx context.Context, sessionID string) {}

func (f *fakeSessions) VerifyDevice(ctx context.Context, user *models.User, sessionID, code string) (*models.DeviceSession, error) {
	s := f.sessions[sessionID]
	s.NeedsVerification = false
	s.IsTrusted = true
	return s, nil
}

func (f *fakeSessions) ResendDeviceCode(ctx context.Context, user *models.User, sessionID string) error {
	return nil
}

func (f *fakeSessions) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.DeviceSessionResponse, error) {
	return nil, nil
}

func (f *fakeSessions) RevokeSession(ctx context.Context, userID, sessionID, currentSessionID string) error {
	return nil
}

type fakeFactors map[string]bool

func (f fakeFactors) HasVerifiedFactors(ctx context.Context, userID string) (bool, error) {
	return f[userID], nil
}

type fakeAccount struct {
	handlers.AccountServiceInterface
}

func (fakeAccount) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return &models.User{ID: userID, Email: userID + "@example.com", EmailVerified: true}, nil
}

type openGate struct {
	handlers.StepUpServiceInterface
}

func (openGate) Evaluate(ctx context.Context, userID, sessionID string) (trust.StepUpDecision, error) {
	return trust.StepUpDecision{Reason: trust.ReasonWithinGracePeriod}, nil
}

type testRouter struct {
	router http.Handler
	tm     *auth.TokenManager
}

func newTestRouter(t *testing.T, sessions *fakeSessions, factors fakeFactors) *testRouter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager("routes-test-secret-32-characters!", 15*time.Minute, time.Hour)
	rl := middleware.NewRateLimiter(config.RateLimitConfig{
		AuthStrictPerMinute: 100,
		GeneralPerMinute:    100,
		BasicPerMinute:      100,
		SMSPerIPPerHour:     100,
		SMSPerUserPer10Min:  100,
		DataExportPerDay:    100,
	}, nil, nil, logger)

	guard := handlers.NewStepUpGuard(openGate{}, logger)
	account := fakeAccount{}

	r := chi.NewRouter()
	RegisterRoutes(r, Handlers{
		Auth:         handlers.NewAuthHandler(nil, nil, logger),
		Device:       handlers.NewDeviceHandler(sessions, account),
		Verification: handlers.NewVerificationHandler(openGate{}, time.Hour),
		MFA:          handlers.NewMFAHandler(nil, account, guard),
		Account:      handlers.NewAccountHandler(account, nil, guard, nil),
		Export:       handlers.NewExportHandler(nil),
		Health:       handlers.NewHealthHandler(nil, logger),
	}, Security{
		TokenManager: tm,
		Sessions:     sessions,
		Factors:      factors,
		RateLimiter:  rl,
		Logger:       logger,
	})
	return &testRouter{router: r, tm: tm}
}

func (tr *testRouter) do(t *testing.T, method, path, userID, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := tr.tm.GenerateAccessToken(userID, userID+"@example.com", sessionID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)
	return w
}

func TestRoutes_ProtectionChain(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*models.DeviceSession{
		"trusted":  {ID: "trusted", UserID: "alice", IsTrusted: true, AAL: models.AAL1},
		"pending":  {ID: "pending", UserID: "alice", NeedsVerification: true, AAL: models.AAL1},
		"bob-aal1": {ID: "bob-aal1", UserID: "bob", IsTrusted: true, AAL: models.AAL1},
		"bob-aal2": {ID: "bob-aal2", UserID: "bob", IsTrusted: true, AAL: models.AAL2},
	}}
	tr := newTestRouter(t, sessions, fakeFactors{"bob": true})

	tests := []struct {
		name       string
		method     string
		path       string
		userID     string
		sessionID  string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health is public", http.MethodGet, "/health", "", "", "", http.StatusOK, ""},
		{"no token", http.MethodGet, "/account/me", "", "", "", http.StatusUnauthorized, ""},
		{"session ended", http.MethodGet, "/account/me", "alice", "gone", "", http.StatusUnauthorized, "session_not_found"},
		{"trusted session", http.MethodGet, "/account/me", "alice", "trusted", "", http.StatusOK, "alice@example.com"},
		{"unverified device blocked", http.MethodGet, "/account/me", "alice", "pending", "", http.StatusForbidden, "device_verification_required"},
		{"unverified device can verify", http.MethodPost, "/auth/device/verify", "alice", "pending", `{"code":"123456"}`, http.StatusOK, `"is_trusted":true`},
		{"2fa user at aal1 blocked", http.MethodGet, "/account/me", "bob", "bob-aal1", "", http.StatusForbidden, "mfa_required"},
		{"2fa user at aal2 allowed", http.MethodGet, "/account/me", "bob", "bob-aal2", "", http.StatusOK, ""},
		{"foreign session id", http.MethodGet, "/account/me", "bob", "trusted", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tr.do(t, tt.method, tt.path, tt.userID, tt.sessionID, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRoutes_AuthStrictLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := middleware.NewRateLimiter(config.RateLimitConfig{AuthStrictPerMinute: 2, GeneralPerMinute: 1, BasicPerMinute: 1, SMSPerIPPerHour: 1, SMSPerUserPer10Min: 1, DataExportPerDay: 1}, nil, nil, logger)
	authSvc := &loginCounter{}

	r := chi.NewRouter()
	RegisterRoutes(r, Handlers{
		Auth:   handlers.NewAuthHandler(authSvc, nil, logger),
		Health: handlers.NewHealthHandler(nil, logger),
	}, Security{
		TokenManager: auth.NewTokenManager("routes-test-secret-32-characters!", time.Minute, time.Hour),
		Sessions:     &fakeSessions{},
		Factors:      fakeFactors{},
		RateLimiter:  rl,
		Logger:       logger,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
		req.RemoteAddr = "203.0.113.9:1000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, authSvc.logins)
}

type loginCounter struct {
	handlers.AuthServiceInterface
	logins int
}

func (l *loginCounter) Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error) {
	l.logins++
	return &models.AuthResponse{SessionID: "s"}, nil
}
