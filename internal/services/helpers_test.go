package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string) error
	UpdateEmailFunc       func(ctx context.Context, id, email string) error
	MarkEmailVerifiedFunc func(ctx context.Context, id string) error
	UpdateAvatarFunc      func(ctx context.Context, id string, avatarKey *string) error
	DeleteFunc            func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) UpdateEmail(ctx context.Context, id, email string) error {
	if m.UpdateEmailFunc != nil {
		return m.UpdateEmailFunc(ctx, id, email)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) UpdateAvatar(ctx context.Context, id string, avatarKey *string) error {
	if m.UpdateAvatarFunc != nil {
		return m.UpdateAvatarFunc(ctx, id, avatarKey)
	}
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockIdentityRepository implements IdentityRepository for testing
type MockIdentityRepository struct {
	CreateFunc        func(ctx context.Context, identity *models.Identity) error
	GetByProviderFunc func(ctx context.Context, provider, providerUserID string) (*models.Identity, error)
	ListByUserFunc    func(ctx context.Context, userID string) ([]models.Identity, error)
	DeleteFunc        func(ctx context.Context, userID, id string) error
}

func (m *MockIdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, identity)
	}
	identity.ID = uuid.New().String()
	return nil
}

func (m *MockIdentityRepository) GetByProvider(ctx context.Context, provider, providerUserID string) (*models.Identity, error) {
	if m.GetByProviderFunc != nil {
		return m.GetByProviderFunc(ctx, provider, providerUserID)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) ListByUser(ctx context.Context, userID string) ([]models.Identity, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockIdentityRepository) Delete(ctx context.Context, userID, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, id)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	mu      sync.Mutex
	revoked map[string]bool

	RevokeTokenFunc    func(ctx context.Context, jti, userID string, expiresAt time.Time) (bool, error)
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) (bool, error) {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = make(map[string]bool)
	}
	if m.revoked[jti] {
		return false, nil
	}
	m.revoked[jti] = true
	return true, nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

// MockDeviceSessionRepository keeps sessions in memory unless a Func overrides it
type MockDeviceSessionRepository struct {
	mu       sync.Mutex
	Sessions map[string]*models.DeviceSession

	CreateFunc                     func(ctx context.Context, s *models.DeviceSession) error
	GetByIDFunc                    func(ctx context.Context, id string) (*models.DeviceSession, error)
	ListTrustedByUserFunc          func(ctx context.Context, userID string) ([]models.DeviceSession, error)
	StampSensitiveVerificationFunc func(ctx context.Context, id string, at time.Time) (bool, error)
}

func (m *MockDeviceSessionRepository) store() map[string]*models.DeviceSession {
	if m.Sessions == nil {
		m.Sessions = make(map[string]*models.DeviceSession)
	}
	return m.Sessions
}

// Put seeds a session
func (m *MockDeviceSessionRepository) Put(s *models.DeviceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store()[s.ID] = &cp
}

func (m *MockDeviceSessionRepository) Create(ctx context.Context, s *models.DeviceSession) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()
	s.LastActiveAt = s.CreatedAt
	cp := *s
	m.store()[s.ID] = &cp
	return nil
}

func (m *MockDeviceSessionRepository) GetByID(ctx context.Context, id string) (*models.DeviceSession, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store()[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockDeviceSessionRepository) list(userID string, trustedOnly bool) []models.DeviceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceSession
	for _, s := range m.store() {
		if s.UserID != userID || (trustedOnly && !s.IsTrusted) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

func (m *MockDeviceSessionRepository) ListTrustedByUser(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	if m.ListTrustedByUserFunc != nil {
		return m.ListTrustedByUserFunc(ctx, userID)
	}
	return m.list(userID, true), nil
}

func (m *MockDeviceSessionRepository) ListByUser(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	return m.list(userID, false), nil
}

func (m *MockDeviceSessionRepository) update(id string, fn func(s *models.DeviceSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store()[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	fn(s)
	return nil
}

func (m *MockDeviceSessionRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(s *models.DeviceSession) {
		s.IsTrusted = true
		s.NeedsVerification = false
		s.LastVerifiedAt = &at
	})
}

func (m *MockDeviceSessionRepository) StampSensitiveVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.StampSensitiveVerificationFunc != nil {
		return m.StampSensitiveVerificationFunc(ctx, id, at)
	}
	stamped := false
	err := m.update(id, func(s *models.DeviceSession) {
		if !at.Before(s.ExpiresAt) {
			return
		}
		if s.LastSensitiveVerificationAt == nil || s.LastSensitiveVerificationAt.Before(at) {
			s.LastSensitiveVerificationAt = &at
			stamped = true
		}
	})
	if err != nil {
		return false, nil
	}
	return stamped, nil
}

func (m *MockDeviceSessionRepository) SetAAL(ctx context.Context, id, aal string) error {
	return m.update(id, func(s *models.DeviceSession) { s.AAL = aal })
}

func (m *MockDeviceSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_ = m.update(id, func(s *models.DeviceSession) { s.LastActiveAt = at })
	return nil
}

func (m *MockDeviceSessionRepository) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store()[id]
	if !ok || s.UserID != userID {
		return models.ErrSessionNotFound
	}
	delete(m.store(), id)
	return nil
}

func (m *MockDeviceSessionRepository) DeleteAllForUser(ctx context.Context, userID, keepID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.store() {
		if s.UserID == userID && id != keepID {
			delete(m.store(), id)
			n++
		}
	}
	return n, nil
}

// MockMFAFactorRepository keeps factors in memory
type MockMFAFactorRepository struct {
	mu      sync.Mutex
	Factors []*models.MFAFactor

	ListVerifiedByUserFunc func(ctx context.Context, userID string) ([]models.MFAFactor, error)
}

func (m *MockMFAFactorRepository) Create(ctx context.Context, f *models.MFAFactor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now()
	cp := *f
	m.Factors = append(m.Factors, &cp)
	return nil
}

func (m *MockMFAFactorRepository) GetByID(ctx context.Context, userID, id string) (*models.MFAFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Factors {
		if f.ID == id && f.UserID == userID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockMFAFactorRepository) ListByUser(ctx context.Context, userID string) ([]models.MFAFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MFAFactor
	for _, f := range m.Factors {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *MockMFAFactorRepository) ListVerifiedByUser(ctx context.Context, userID string) ([]models.MFAFactor, error) {
	if m.ListVerifiedByUserFunc != nil {
		return m.ListVerifiedByUserFunc(ctx, userID)
	}
	all, _ := m.ListByUser(ctx, userID)
	var out []models.MFAFactor
	for _, f := range all {
		if f.IsVerified() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockMFAFactorRepository) MarkVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Factors {
		if f.ID == id {
			if f.IsVerified() {
				return models.ErrFactorAlreadyVerified
			}
			now := time.Now()
			f.Status = models.FactorStatusVerified
			f.VerifiedAt = &now
			f.LastUsedAt = &now
			return nil
		}
	}
	return models.ErrFactorAlreadyVerified
}

func (m *MockMFAFactorRepository) UpdateLastUsedAt(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Factors {
		if f.ID == id {
			now := time.Now()
			f.LastUsedAt = &now
		}
	}
	return nil
}

func (m *MockMFAFactorRepository) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.Factors {
		if f.ID == id && f.UserID == userID {
			m.Factors = append(m.Factors[:i], m.Factors[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockMFAFactorRepository) DeleteUnverified(ctx context.Context, userID, factorType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Factors[:0]
	for _, f := range m.Factors {
		if f.UserID == userID && f.FactorType == factorType && !f.IsVerified() {
			continue
		}
		kept = append(kept, f)
	}
	m.Factors = kept
	return nil
}

// MockBackupCodeRepository keeps hashed codes in memory
type MockBackupCodeRepository struct {
	mu    sync.Mutex
	Codes []*models.BackupCode
}

func (m *MockBackupCodeRepository) Replace(ctx context.Context, userID string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Codes[:0]
	for _, c := range m.Codes {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	for _, h := range hashes {
		kept = append(kept, &models.BackupCode{ID: uuid.New().String(), UserID: userID, CodeHash: h, CreatedAt: time.Now()})
	}
	m.Codes = kept
	return nil
}

func (m *MockBackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BackupCode
	for _, c := range m.Codes {
		if c.UserID == userID && c.UsedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MockBackupCodeRepository) CountUnused(ctx context.Context, userID string) (int, error) {
	unused, _ := m.ListUnused(ctx, userID)
	return len(unused), nil
}

func (m *MockBackupCodeRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Codes {
		if c.ID == id && c.UsedAt == nil {
			now := time.Now()
			c.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *MockBackupCodeRepository) DeleteByUser(ctx context.Context, userID string) error {
	return m.Replace(ctx, userID, nil)
}

// MockVerificationCodeRepository keeps codes in memory
type MockVerificationCodeRepository struct {
	mu    sync.Mutex
	Codes []*models.VerificationCode
}

func (m *MockVerificationCodeRepository) Create(ctx context.Context, c *models.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, existing := range m.Codes {
		if existing.UserID == c.UserID && existing.Purpose == c.Purpose && existing.ConsumedAt == nil {
			existing.ConsumedAt = &now
		}
	}
	c.ID = uuid.New().String()
	c.CreatedAt = now
	cp := *c
	m.Codes = append(m.Codes, &cp)
	return nil
}

func (m *MockVerificationCodeRepository) GetActive(ctx context.Context, userID, purpose string) (*models.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Codes) - 1; i >= 0; i-- {
		c := m.Codes[i]
		if c.UserID == userID && c.Purpose == purpose && c.ConsumedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockVerificationCodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Codes {
		if c.ID == id {
			c.Attempts++
			return c.Attempts, nil
		}
	}
	return 0, models.ErrNotFound
}

func (m *MockVerificationCodeRepository) Consume(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Codes {
		if c.ID == id && c.ConsumedAt == nil {
			now := time.Now()
			c.ConsumedAt = &now
			return true, nil
		}
	}
	return false, nil
}

// MockAccountEventRepository records events
type MockAccountEventRepository struct {
	mu     sync.Mutex
	Events []models.AccountEvent

	CreateFunc func(ctx context.Context, e *models.AccountEvent) error
}

func (m *MockAccountEventRepository) Create(ctx context.Context, e *models.AccountEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()
	m.Events = append(m.Events, *e)
	return nil
}

func (m *MockAccountEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AccountEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []models.AccountEvent
	for _, e := range m.Events {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	total := len(mine)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return mine[offset:end], total, nil
}

// Types returns the recorded event types in order
func (m *MockAccountEventRepository) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.EventType
	}
	return out
}

// MockDataExportRepository keeps export requests in memory
type MockDataExportRepository struct {
	mu       sync.Mutex
	Requests map[string]*models.DataExportRequest
}

func (m *MockDataExportRepository) Create(ctx context.Context, req *models.DataExportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == nil {
		m.Requests = make(map[string]*models.DataExportRequest)
	}
	req.ID = uuid.New().String()
	req.Status = models.ExportStatusPending
	req.CreatedAt = time.Now()
	cp := *req
	m.Requests[req.ID] = &cp
	return nil
}

func (m *MockDataExportRepository) GetByID(ctx context.Context, id string) (*models.DataExportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.Requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MockDataExportRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.Requests[id]
	if !ok || req.Status != models.ExportStatusPending {
		return false, nil
	}
	req.Status = models.ExportStatusProcessing
	return true, nil
}

func (m *MockDataExportRepository) MarkCompleted(ctx context.Context, id, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.Requests[id]
	now := time.Now()
	req.Status = models.ExportStatusCompleted
	req.ObjectKey = &objectKey
	req.CompletedAt = &now
	return nil
}

func (m *MockDataExportRepository) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.Requests[id]
	req.Status = models.ExportStatusFailed
	req.Error = &reason
	return nil
}

// SentCode is one code delivered by a mock sender
type SentCode struct {
	To      string
	Purpose string
	Code    string
}

// MockEmailSender records outgoing email
type MockEmailSender struct {
	mu            sync.Mutex
	Codes         []SentCode
	DeviceAlerts  []models.DeviceFingerprint
	ExportLinks   []string
	SendCodeError error
}

func (m *MockEmailSender) SendVerificationCode(ctx context.Context, to, purpose, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendCodeError != nil {
		return m.SendCodeError
	}
	m.Codes = append(m.Codes, SentCode{To: to, Purpose: purpose, Code: code})
	return nil
}

func (m *MockEmailSender) SendNewDeviceAlert(ctx context.Context, to string, device models.DeviceFingerprint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeviceAlerts = append(m.DeviceAlerts, device)
	return nil
}

func (m *MockEmailSender) SendDataExportReady(ctx context.Context, to, downloadURL string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportLinks = append(m.ExportLinks, downloadURL)
	return nil
}

// LastCode returns the most recent code sent for purpose
func (m *MockEmailSender) LastCode(purpose string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Codes) - 1; i >= 0; i-- {
		if m.Codes[i].Purpose == purpose {
			return m.Codes[i].Code
		}
	}
	return ""
}

// MockSMSSender records texted codes
type MockSMSSender struct {
	mu    sync.Mutex
	Codes []SentCode
}

func (m *MockSMSSender) SendCode(ctx context.Context, phone, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Codes = append(m.Codes, SentCode{To: phone, Code: code})
	return nil
}

// Last returns the most recent texted code
func (m *MockSMSSender) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Codes) == 0 {
		return ""
	}
	return m.Codes[len(m.Codes)-1].Code
}

// MockObjectStorage keeps objects in memory
type MockObjectStorage struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string
}

func (m *MockObjectStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
	}
	m.Objects[key] = data
	return nil
}

func (m *MockObjectStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	m.Deleted = append(m.Deleted, key)
	return nil
}

func (m *MockObjectStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.Objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.Objects, key)
			m.Deleted = append(m.Deleted, key)
			n++
		}
	}
	return n, nil
}

func (m *MockObjectStorage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://storage.test/" + key + "?signed=1", nil
}

// MockExportQueue records enqueued ids
type MockExportQueue struct {
	IDs         []string
	EnqueueFunc func(ctx context.Context, requestID string) error
}

func (m *MockExportQueue) Enqueue(ctx context.Context, requestID string) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, requestID)
	}
	m.IDs = append(m.IDs, requestID)
	return nil
}

// NewTestUser builds an active user with a verified email and no password
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          name,
		EmailVerified: true,
		Status:        models.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTestUserWithPassword builds a test user with the given bcrypt hash
func NewTestUserWithPassword(id, email, name, passwordHash string) *models.User {
	user := NewTestUser(id, email, name)
	user.PasswordHash = &passwordHash
	return user
}

// testPasswordHash hashes at the minimum cost to keep tests fast
func testPasswordHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func testTrustConfig() *config.TrustConfig {
	return &config.TrustConfig{
		TrustThreshold:     70,
		MediumThreshold:    40,
		GracePeriodMinutes: 60,
		SessionTTL:         24 * time.Hour,
		CodeTTL:            10 * time.Minute,
		CodeMaxAttempts:    3,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires every service over in-memory mocks
type testEnv struct {
	users       *MockUserRepository
	identities  *MockIdentityRepository
	revocations *MockTokenRevocationRepository
	sessionRepo *MockDeviceSessionRepository
	factorRepo  *MockMFAFactorRepository
	backupRepo  *MockBackupCodeRepository
	codeRepo    *MockVerificationCodeRepository
	eventRepo   *MockAccountEventRepository
	email       *MockEmailSender
	sms         *MockSMSSender
	storage     *MockObjectStorage
	queue       *MockExportQueue

	tm      *auth.TokenManager
	totpMgr *auth.TOTPManager

	codes    *VerificationCodeService
	events   *EventService
	sessions *DeviceSessionService
	mfa      *MFAService
	stepUp   *StepUpService
	auth     *AuthService
	account  *AccountService
}

const testAssertionSecret = "broker-shared-secret-0123456789ab"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		users:       &MockUserRepository{},
		identities:  &MockIdentityRepository{},
		revocations: &MockTokenRevocationRepository{},
		sessionRepo: &MockDeviceSessionRepository{},
		factorRepo:  &MockMFAFactorRepository{},
		backupRepo:  &MockBackupCodeRepository{},
		codeRepo:    &MockVerificationCodeRepository{},
		eventRepo:   &MockAccountEventRepository{},
		email:       &MockEmailSender{},
		sms:         &MockSMSSender{},
		storage:     &MockObjectStorage{},
		queue:       &MockExportQueue{},
	}

	cfg := testTrustConfig()
	logger := testLogger()
	audit := pkglogger.NewAuditLogger(logger)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	totpMgr, err := auth.NewTOTPManager(key, "Trustgate")
	require.NoError(t, err)
	env.totpMgr = totpMgr
	env.tm = auth.NewTokenManager("test-secret-32-characters-long!!", 15*time.Minute, time.Hour)

	env.codes = NewVerificationCodeService(env.codeRepo, cfg, logger)
	env.events = NewEventService(env.eventRepo, logger)
	env.sessions = NewDeviceSessionService(env.sessionRepo, env.factorRepo, env.codes, env.email, env.events, trust.NewScorer(cfg), cfg, logger, audit)
	env.mfa = NewMFAService(env.factorRepo, env.backupRepo, env.codes, env.sms, env.sessions, env.events, totpMgr, 4, logger, audit)
	env.stepUp = NewStepUpService(env.users, env.sessions, env.mfa, env.codes, env.email, env.events, trust.NewGate(cfg), logger, audit)
	env.auth = NewAuthService(env.users, env.identities, env.revocations, env.sessions, env.mfa, env.codes, env.email, env.events,
		env.tm, auth.NewAssertionVerifier(testAssertionSecret), auth.NewTimingDelay(auth.TimingConfig{}), logger, audit)
	env.account = NewAccountService(env.users, env.identities, env.sessions, env.codes, env.email, env.storage, env.storage, env.events, logger, audit)

	return env
}

// withUser makes the user repository serve user by id and email
func (e *testEnv) withUser(user *models.User) {
	e.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		if id == user.ID {
			cp := *user
			return &cp, nil
		}
		return nil, models.ErrNotFound
	}
	e.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		if email == user.Email {
			cp := *user
			return &cp, nil
		}
		return nil, models.ErrNotFound
	}
}

// seedSession stores a live session for user
func (e *testEnv) seedSession(userID string, fp models.DeviceFingerprint, trusted bool, lastSensitive *time.Time) *models.DeviceSession {
	s := &models.DeviceSession{
		ID:                          uuid.New().String(),
		UserID:                      userID,
		Fingerprint:                 fp,
		IsTrusted:                   trusted,
		NeedsVerification:           !trusted,
		ConfidenceScore:             85,
		AAL:                         models.AAL1,
		LastSensitiveVerificationAt: lastSensitive,
		CreatedAt:                   time.Now(),
		LastActiveAt:                time.Now(),
		ExpiresAt:                   time.Now().Add(time.Hour),
	}
	e.sessionRepo.Put(s)
	return s
}

// seedVerifiedTOTP enrolls a verified TOTP factor and returns it with its base32 secret
func (e *testEnv) seedVerifiedTOTP(t *testing.T, userID string) (*models.MFAFactor, string) {
	t.Helper()
	enrollment, err := e.totpMgr.NewEnrollment("user@example.com")
	require.NoError(t, err)
	f := &models.MFAFactor{
		UserID:              userID,
		FactorType:          models.FactorTypeTOTP,
		FriendlyName:        "Authenticator app",
		Status:              models.FactorStatusVerified,
		TOTPSecretEncrypted: enrollment.EncryptedSecret,
		TOTPSecretNonce:     enrollment.Nonce,
	}
	require.NoError(t, e.factorRepo.Create(context.Background(), f))
	return f, enrollment.Secret
}

func laptop() models.DeviceFingerprint {
	return models.DeviceFingerprint{DeviceName: "Mac", Browser: "Chrome", OS: "macOS 14.1", IPAddress: "203.0.113.10"}
}

func phoneDevice() models.DeviceFingerprint {
	return models.DeviceFingerprint{DeviceName: "Android Phone", Browser: "Firefox", OS: "Android 14", IPAddress: "198.51.100.7"}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
