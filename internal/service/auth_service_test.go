package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/propelize/rental-api/internal/models"
	appErrors "github.com/propelize/rental-api/pkg/errors"
)

type mockAuthRepo struct {
	mu sync.Mutex

	usersByEmail map[string]*models.User
	usersByID    map[string]*models.User

	refreshTokens map[string]*models.RefreshToken

	createRefreshErr error
	revokeAllCalls   []string
	deletedTokens    []string
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	updatedPassword  string
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{
		usersByEmail:  make(map[string]*models.User),
		usersByID:     make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
	for _, u := range users {
		repo.usersByEmail[u.Email] = u
		repo.usersByID[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usersByEmail[user.Email] = user
	m.usersByID[user.ID] = user
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedPassword = passwordHash
	if user, ok := m.usersByID[id]; ok {
		user.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.refreshTokens[token]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	rt.Revoked = true
	rt.RevokedAt = &now
	return rt, nil
}

func (m *mockAuthRepo) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedTokens = append(m.deletedTokens, token)
	if rt, ok := m.refreshTokens[token]; ok && rt.UserID == userID {
		delete(m.refreshTokens, token)
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeAllCalls = append(m.revokeAllCalls, userID)
	for _, rt := range m.refreshTokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "test",
	}
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		FullName:     "Test User",
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		Active:       true,
	}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "u1", res.User.ID)
	assert.True(t, repo.lastLoginUpdated)
	assert.Len(t, repo.refreshTokens, 1)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	user := testUser(t, "password")
	inactive := testUser(t, "password")
	inactive.ID = "u2"
	inactive.Email = "inactive@example.com"
	inactive.Active = false

	repo := newMockAuthRepo(user, inactive)
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	cases := []models.LoginRequest{
		{Email: "nobody@example.com", Password: "password"},
		{Email: "user@example.com", Password: "wrong"},
		{Email: "inactive@example.com", Password: "password"},
	}

	for _, req := range cases {
		_, err := svc.Login(context.Background(), req)
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Message, appErr.Message)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Status, appErr.Status)
	}
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	res, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)

	// The consumed token must not be accepted a second time.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErr.Code)

	// The replacement token still works.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: res.RefreshToken})
	require.NoError(t, err)
}

func TestAuthServiceConcurrentRefreshSingleWinner(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestAuthServiceRefreshRejectsGarbage(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "not-a-jwt"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRejectsInactiveUser(t *testing.T) {
	user := testUser(t, "password")
	repo := newMockAuthRepo(user)
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	user.Active = false
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutIsIdempotent(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	require.NoError(t, svc.Logout(context.Background(), "u1", "unknown-token", "", ""))
	require.NoError(t, svc.Logout(context.Background(), "u1", "unknown-token", "", ""))
}

func TestAuthServiceLogoutAllRevokesEverySession(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(context.Background(), "u1", "", ""))

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: token})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
	}
}

func TestAuthServiceChangePasswordWrongCurrent(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "newpassword"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.revokeAllCalls)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{CurrentPassword: "password", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, repo.revokeAllCalls)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.updatedPassword), []byte("newpassword")))

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "newpassword"})
	require.NoError(t, err)
}

func TestAuthServiceValidateTokenRejectsExpired(t *testing.T) {
	cfg := testAuthConfig()
	cfg.AccessExpiry = -time.Minute
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), cfg)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(res.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsWrongSecret(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	other := NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{AccessSecret: "different", RefreshSecret: "different", AccessExpiry: time.Hour, RefreshExpiry: time.Hour})
	_, err = other.ValidateToken(res.AccessToken)
	require.Error(t, err)
}

func TestAuthServiceRefreshTokenNotValidAsAccessToken(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(res.RefreshToken)
	require.Error(t, err)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password"))
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "user@example.com", FullName: "Dup", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegisterCreatesUserRole(t *testing.T) {
	repo := newMockAuthRepo()
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	info, err := svc.Register(context.Background(), models.RegisterRequest{Email: "New@Example.com", FullName: "New User", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, info.Role)
	assert.Equal(t, "new@example.com", info.Email)

	stored, err := repo.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Active)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password")))
}

func TestAuthServiceResolveActiveUser(t *testing.T) {
	user := testUser(t, "password")
	repo := newMockAuthRepo(user)
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	resolved, err := svc.ResolveActiveUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", resolved.ID)

	user.Active = false
	_, err = svc.ResolveActiveUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
