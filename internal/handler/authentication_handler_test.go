package handler_test

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/handler"
	"auth-gateway/internal/model"
	"auth-gateway/internal/repository"
	"auth-gateway/internal/security"
	"auth-gateway/internal/service"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ===== MOCKS =====

// MockAuthenticationService
type MockAuthenticationService struct {
	mock.Mock
}

func (m *MockAuthenticationService) Login(ctx context.Context, username, password string) (*model.TokensPair, error) {
	args := m.Called(ctx, username, password)
	pair, _ := args.Get(0).(*model.TokensPair)
	return pair, args.Error(1)
}

func (m *MockAuthenticationService) Refresh(ctx context.Context, refreshToken string) (*model.TokensPair, error) {
	args := m.Called(ctx, refreshToken)
	pair, _ := args.Get(0).(*model.TokensPair)
	return pair, args.Error(1)
}

func (m *MockAuthenticationService) Logout(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

func (m *MockAuthenticationService) RevokeAll(ctx context.Context, username string) (int64, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuthenticationService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	args := m.Called(ctx, username, oldPassword, newPassword)
	return args.Error(0)
}

func (m *MockAuthenticationService) ValidateAccessToken(accessToken string) (string, error) {
	args := m.Called(accessToken)
	return args.String(0), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func withClaims(req *http.Request, subject string) *http.Request {
	claims := &security.Claims{Username: subject}
	claims.Subject = subject
	return req.WithContext(context.WithValue(req.Context(), security.UserContextKey, claims))
}

func TestLogin_Success(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("Login", mock.Anything, "alice", "P@ss").Return(&model.TokensPair{AccessToken: "a1", RefreshToken: "r1"}, nil)

	rec := post(h.Login, `{"username":"alice","password":"P@ss"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "Login successful.", env.Message)
	assert.JSONEq(t, `{"accessToken":"a1","refreshToken":"r1"}`, string(env.Data))
}

func TestLogin_EmptyBody(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)

	for _, body := range []string{"", "   ", "null"} {
		rec := post(h.Login, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, "empty_request", env.Error)
		assert.Equal(t, "Request body cannot be empty.", env.Message)
	}
	svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestLogin_BrokenJSON(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)

	rec := post(h.Login, `{"username":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeEnvelope(t, rec).Error)
}

func TestSendError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind   autherror.Kind
		status int
	}{
		{autherror.KindValidation, http.StatusBadRequest},
		{autherror.KindInvalidOldPassword, http.StatusBadRequest},
		{autherror.KindInvalidUser, http.StatusBadRequest},
		{autherror.KindInvalidCredentials, http.StatusUnauthorized},
		{autherror.KindInvalidRefreshToken, http.StatusUnauthorized},
		{autherror.KindUnauthorized, http.StatusUnauthorized},
		{autherror.KindTokenExpired, http.StatusUnauthorized},
		{autherror.KindUserNotFound, http.StatusUnauthorized},
		{autherror.KindUpdateFailed, http.StatusInternalServerError},
		{autherror.KindInternal, http.StatusInternalServerError},
		{autherror.KindStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &MockAuthenticationService{}
			h := handler.NewAuthenticationHandler(svc)
			svc.On("Login", mock.Anything, "alice", "x").Return(nil, autherror.New(tt.kind, "message for "+string(tt.kind), nil))

			rec := post(h.Login, `{"username":"alice","password":"x"}`)

			assert.Equal(t, tt.status, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, string(tt.kind), env.Error)
			assert.Equal(t, "message for "+string(tt.kind), env.Message)
		})
	}
}

func TestSendError_UnknownErrorIsInternal(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("Refresh", mock.Anything, "r1").Return(nil, errors.New("pq: connection reset"))

	rec := post(h.RefreshToken, `"r1"`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "internal_error", env.Error)
	assert.NotContains(t, env.Message, "pq")
}

func TestRefreshToken_AcceptsObjectAndBareString(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("Refresh", mock.Anything, "r1").Return(&model.TokensPair{AccessToken: "a2", RefreshToken: "r2"}, nil)

	for _, body := range []string{`{"refreshToken":"r1"}`, `"r1"`} {
		rec := post(h.RefreshToken, body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Token refreshed.", decodeEnvelope(t, rec).Message)
	}
	svc.AssertNumberOfCalls(t, "Refresh", 2)
}

func TestLogout(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("Logout", mock.Anything, "r1").Return(nil)

	rec := post(h.Logout, `"r1"`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logout successful.", decodeEnvelope(t, rec).Message)
}

func TestChangePassword_UsesSubjectFromToken(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("ChangePassword", mock.Anything, "alice", "old", "new").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"oldPassword":"old","newPassword":"new"}`))
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, withClaims(req, "alice"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password changed successfully.", decodeEnvelope(t, rec).Message)
	svc.AssertExpectations(t)
}

func TestChangePassword_WithoutClaims(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)

	rec := post(h.ChangePassword, `{"oldPassword":"old","newPassword":"new"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeEnvelope(t, rec).Error)
}

func TestRevokeAll(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("RevokeAll", mock.Anything, "alice").Return(int64(3), nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.RevokeAll(rec, withClaims(req, "alice"))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.JSONEq(t, `{"revoked":3}`, string(env.Data))
}

func TestGetCurrentUser(t *testing.T) {
	h := handler.NewAuthenticationHandler(&MockAuthenticationService{})

	rec := httptest.NewRecorder()
	h.GetCurrentUser(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"alice"}`, string(decodeEnvelope(t, rec).Data))

	rec = httptest.NewRecorder()
	h.GetCurrentUserHead(rec, withClaims(httptest.NewRequest(http.MethodHead, "/", nil), "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

// ===== END-TO-END =====

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (m *memoryUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, autherror.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, username, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return false, nil
	}
	u.PasswordHash = hash
	return true, nil
}

func newRouter(t *testing.T) *chi.Mux {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("P@ssw0rd123"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &memoryUsers{users: map[string]*model.User{
		"alice": {Username: "alice", PasswordHash: string(hash), IsActive: true},
	}}

	jwtService, err := security.NewJWTService(&config.JWTConfig{
		SecretKey:             "router-test-secret",
		Issuer:                "auth-gateway",
		Audience:              "auth-gateway-users",
		AccessTokenTTLMinutes: 15,
	})
	require.NoError(t, err)

	session := &config.SessionConfig{RevokeAllOnReuse: true, RevokeAllOnPasswordChange: true}
	authService := service.NewAuthenticationService(users, repository.NewMemoryRefreshTokenRepository(), jwtService, session)
	authHandler := handler.NewAuthenticationHandler(authService)

	router := chi.NewRouter()
	router.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Group(func(r chi.Router) {
			r.Use(security.JWTMiddleware(jwtService))
			r.Post("/logout", authHandler.Logout)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Post("/revoke-all", authHandler.RevokeAll)
			r.Get("/me", authHandler.GetCurrentUser)
			r.Head("/me", authHandler.GetCurrentUserHead)
		})
	})
	return router
}

func call(router http.Handler, method, path, accessToken, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func tokens(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	return data.AccessToken, data.RefreshToken
}

func TestRouter_SessionLifecycle(t *testing.T) {
	router := newRouter(t)

	rec := call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Username or password is incorrect.", decodeEnvelope(t, rec).Message)

	access, refresh := tokens(t, call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"P@ssw0rd123"}`))

	rec = call(router, http.MethodGet, "/api/auth/me", access, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, rotated := tokens(t, call(router, http.MethodPost, "/api/auth/refresh-token", "", `"`+refresh+`"`))

	rec = call(router, http.MethodPost, "/api/auth/refresh-token", "", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decodeEnvelope(t, rec).Error)

	// повторное предъявление отозвало и преемника
	rec = call(router, http.MethodPost, "/api/auth/refresh-token", "", `"`+rotated+`"`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, refresh = tokens(t, call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"P@ssw0rd123"}`))

	rec = call(router, http.MethodPost, "/api/auth/logout", "", `"`+refresh+`"`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(router, http.MethodPost, "/api/auth/logout", access, `"`+refresh+`"`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(router, http.MethodPost, "/api/auth/logout", access, `"`+refresh+`"`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(router, http.MethodPost, "/api/auth/refresh-token", "", `"`+refresh+`"`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ChangePasswordAndRevokeAll(t *testing.T) {
	router := newRouter(t)

	access, refresh := tokens(t, call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"P@ssw0rd123"}`))
	_, other := tokens(t, call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"P@ssw0rd123"}`))

	rec := call(router, http.MethodPost, "/api/auth/change-password", access, `{"oldPassword":"nope","newPassword":"N3w!"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_old_password", decodeEnvelope(t, rec).Error)

	rec = call(router, http.MethodPost, "/api/auth/revoke-all", access, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":2}`, string(decodeEnvelope(t, rec).Data))

	for _, token := range []string{refresh, other} {
		rec = call(router, http.MethodPost, "/api/auth/refresh-token", "", `"`+token+`"`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec = call(router, http.MethodPost, "/api/auth/change-password", access, `{"oldPassword":"P@ssw0rd123","newPassword":"N3w!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"P@ssw0rd123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	tokens(t, call(router, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"N3w!"}`))
}

func TestRouter_MissingBearer(t *testing.T) {
	router := newRouter(t)

	rec := call(router, http.MethodPost, "/api/auth/revoke-all", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeEnvelope(t, rec).Error)

	rec = call(router, http.MethodGet, "/api/auth/me", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeEnvelope(t, rec).Error)
}

func TestRouter_StoreTimeoutIsServiceUnavailable(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)
	svc.On("Login", mock.Anything, "alice", "x").
		Return(nil, autherror.New(autherror.KindStoreUnavailable, "Service is temporarily unavailable.", context.DeadlineExceeded))

	start := time.Now()
	rec := post(h.Login, `{"username":"alice","password":"x"}`)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLogin_BodyTooLarge(t *testing.T) {
	svc := &MockAuthenticationService{}
	h := handler.NewAuthenticationHandler(svc)

	huge := `{"username":"alice","password":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := post(h.Login, huge)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "request_too_large", env.Error)
	assert.Equal(t, "Request body is too large.", env.Message)
	svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}
