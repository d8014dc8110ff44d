package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/propelize/rental-api/internal/middleware"
	"github.com/propelize/rental-api/internal/models"
	"github.com/propelize/rental-api/internal/service"
	"github.com/propelize/rental-api/pkg/response"
)

type authRepoStub struct {
	mu            sync.Mutex
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
}

func newAuthRepoStub(users ...*models.User) *authRepoStub {
	stub := &authRepoStub{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (s *authRepoStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (s *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *authRepoStub) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[token]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	rt.Revoked = true
	return rt, nil
}

func (s *authRepoStub) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, token)
	return nil
}

func (s *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.refreshTokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

func (s *authRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

func newAuthTestService(t *testing.T) (*service.AuthService, *authRepoStub) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := newAuthRepoStub(&models.User{
		ID:           "u1",
		Email:        "user@example.com",
		FullName:     "Test User",
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		Active:       true,
	})
	svc := service.NewAuthService(repo, validator.New(), zap.NewNop(), service.AuthConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "test",
	})
	return svc, repo
}

func postJSON(t *testing.T, h gin.HandlerFunc, path string, payload interface{}, claims *models.JWTClaims) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	h(c)
	// Flush the deferred status that gin's engine would normally write
	// after the handler chain; without this, status-only responses such as
	// 204 are never observed by the recorder.
	c.Writer.WriteHeaderNow()
	return w
}

func TestAuthHandlerLoginSuccess(t *testing.T) {
	svc, _ := newAuthTestService(t)
	handler := NewAuthHandler(svc, nil)

	w := postJSON(t, handler.Login, "/auth/login", models.LoginRequest{Email: "user@example.com", Password: "password"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Nil(t, envelope.Error)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	svc, _ := newAuthTestService(t)
	handler := NewAuthHandler(svc, nil)

	w := postJSON(t, handler.Login, "/auth/login", models.LoginRequest{Email: "user@example.com", Password: "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "invalid credentials", envelope.Error.Message)
}

func TestAuthHandlerRefreshReplayRejected(t *testing.T) {
	svc, _ := newAuthTestService(t)
	handler := NewAuthHandler(svc, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	first := postJSON(t, handler.Refresh, "/auth/refresh", models.RefreshTokenRequest{RefreshToken: login.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, handler.Refresh, "/auth/refresh", models.RefreshTokenRequest{RefreshToken: login.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, second.Code)
}

func TestAuthHandlerLogoutIdempotent(t *testing.T) {
	svc, _ := newAuthTestService(t)
	handler := NewAuthHandler(svc, nil)
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleUser}

	payload := map[string]string{"refresh_token": "unknown-token"}
	first := postJSON(t, handler.Logout, "/auth/logout", payload, claims)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := postJSON(t, handler.Logout, "/auth/logout", payload, claims)
	assert.Equal(t, http.StatusNoContent, second.Code)
}

func TestAuthHandlerChangePasswordWrongCurrent(t *testing.T) {
	svc, _ := newAuthTestService(t)
	handler := NewAuthHandler(svc, nil)
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleUser}

	payload := models.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "newpassword"}
	w := postJSON(t, handler.ChangePassword, "/auth/change-password", payload, claims)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
