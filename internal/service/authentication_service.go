package service

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/metrics"
	"auth-gateway/internal/model"
	"auth-gateway/internal/ports"
	"auth-gateway/internal/security"
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Сообщения для клиента
const (
	msgCredentialsRequired = "Username and password are required."
	msgInvalidCredentials  = "Username or password is incorrect."
	msgRefreshRequired     = "Refresh token is required."
	msgInvalidRefreshToken = "Refresh token is invalid or expired."
	msgPasswordsRequired   = "Old password and new password are required."
	msgUnauthorized        = "Unauthorized."
	msgTokenExpired        = "Token has expired."
	msgUserNotFound        = "User not found."
	msgInvalidUser         = "Password in database is empty."
	msgInvalidOldPassword  = "Old password is incorrect."
	msgUpdateFailed        = "Failed to update password."
	msgStoreUnavailable    = "Service is temporarily unavailable."
	msgInternal            = "Internal server error."
	msgNewPasswordTooLong  = "New password is too long."
	msgUsernameRequired    = "Username is required."
)

const (
	operationLogin          = "login"
	operationRefresh        = "refresh"
	operationLogout         = "logout"
	operationRevokeAll      = "revoke_all"
	operationChangePassword = "change_password"
)

// AuthenticationService : протокол выдачи, ротации и отзыва токенов
type AuthenticationService struct {
	users     ports.IdentityRepository
	verifier  ports.CredentialVerifier
	tokens    ports.RefreshTokenStore
	minter    ports.TokenMinter
	validator ports.AccessValidator
	audit     ports.AuditSink

	revokeAllOnReuse          bool
	revokeAllOnPasswordChange bool
	storeTimeout              time.Duration
	now                       func() time.Time
}

type Option func(*AuthenticationService)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *AuthenticationService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAuditSink(sink ports.AuditSink) Option {
	return func(s *AuthenticationService) {
		if sink != nil {
			s.audit = sink
		}
	}
}

func NewAuthenticationService(
	users ports.IdentityRepository,
	tokens ports.RefreshTokenStore,
	jwtService *security.JWTService,
	session *config.SessionConfig,
	opts ...Option,
) *AuthenticationService {
	return newAuthenticationService(users, tokens, jwtService, jwtService, session, opts...)
}

func newAuthenticationService(
	users ports.IdentityRepository,
	tokens ports.RefreshTokenStore,
	minter ports.TokenMinter,
	validator ports.AccessValidator,
	session *config.SessionConfig,
	opts ...Option,
) *AuthenticationService {
	if session == nil {
		session = &config.SessionConfig{RevokeAllOnReuse: true, RevokeAllOnPasswordChange: true}
	}

	service := &AuthenticationService{
		users:                     users,
		verifier:                  NewCredentialVerifier(users),
		tokens:                    tokens,
		minter:                    minter,
		validator:                 validator,
		audit:                     LogAuditSink{},
		revokeAllOnReuse:          session.RevokeAllOnReuse,
		revokeAllOnPasswordChange: session.RevokeAllOnPasswordChange,
		storeTimeout:              session.StoreCallTimeout(),
		now:                       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Login проверяет учётные данные и выдаёт новую пару токенов.
// Отсутствие пользователя, битый хэш и неверный пароль снаружи неотличимы
func (s *AuthenticationService) Login(ctx context.Context, username, password string) (*model.TokensPair, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		metrics.ObserveOperation(operationLogin, metrics.ResultRejected)
		return nil, autherror.New(autherror.KindValidation, msgCredentialsRequired, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	user, err := s.verifier.Verify(storeCtx, username, password)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, autherror.ErrUserNotFound),
			errors.Is(err, autherror.ErrMalformedRecord),
			errors.Is(err, autherror.ErrInvalidCredentials):
			if errors.Is(err, autherror.ErrMalformedRecord) {
				log.Printf("[AuthService] у пользователя %q повреждён хэш пароля", username)
			}
			metrics.ObserveOperation(operationLogin, metrics.ResultRejected)
			s.record(ctx, ports.AuditLoginFailed, username, err.Error())
			return nil, autherror.New(autherror.KindInvalidCredentials, msgInvalidCredentials, err)
		default:
			return nil, s.storeFailure(operationLogin, "[AuthService] ошибка проверки учётных данных", err)
		}
	}

	now := s.now().UTC()
	tokensPair, record, err := s.issue(user.Username, now)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel = s.storeContext(ctx)
	err = s.tokens.Insert(storeCtx, record)
	cancel()
	if err != nil {
		return nil, s.storeFailure(operationLogin, "[AuthService] ошибка сохранения refresh токена", err)
	}

	metrics.ObserveOperation(operationLogin, metrics.ResultSuccess)
	s.record(ctx, ports.AuditLoginSucceeded, user.Username, "")
	return tokensPair, nil
}

// Refresh обменивает активный refresh-токен на новую пару.
// Старый токен становится ротированным и ссылается на новый, повторно его использовать нельзя.
// Предъявление уже ротированного токена считается признаком кражи
func (s *AuthenticationService) Refresh(ctx context.Context, refreshToken string) (*model.TokensPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		metrics.ObserveOperation(operationRefresh, metrics.ResultRejected)
		return nil, autherror.New(autherror.KindValidation, msgRefreshRequired, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	record, err := s.tokens.FindByToken(storeCtx, refreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, autherror.ErrTokenNotFound) {
			return nil, s.rejectRefresh(ctx, "", err)
		}
		return nil, s.storeFailure(operationRefresh, "[AuthService] не удалось найти рефреш токен", err)
	}

	now := s.now().UTC()
	switch record.State(now) {
	case model.TokenRotated:
		s.handleReuse(ctx, record)
		return nil, s.rejectRefresh(ctx, record.Username, autherror.ErrTokenReused)
	case model.TokenRevoked, model.TokenExpired:
		return nil, s.rejectRefresh(ctx, record.Username, autherror.ErrTokenNotActive)
	}

	tokensPair, successor, err := s.issue(record.Username, now)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel = s.storeContext(ctx)
	err = s.tokens.Rotate(storeCtx, refreshToken, successor)
	cancel()
	if err != nil {
		if errors.Is(err, autherror.ErrTokenNotActive) {
			log.Printf("[AuthService] refresh токен пользователя %q уже ротирован параллельным запросом", record.Username)
			return nil, s.rejectRefresh(ctx, record.Username, err)
		}
		return nil, s.storeFailure(operationRefresh, "[AuthService] не удалось ротировать рефреш токен", err)
	}

	metrics.ObserveOperation(operationRefresh, metrics.ResultSuccess)
	s.record(ctx, ports.AuditTokenRefreshed, record.Username, "")
	return tokensPair, nil
}

func (s *AuthenticationService) handleReuse(ctx context.Context, record *model.RefreshToken) {
	metrics.RefreshReuseDetected.Inc()
	log.Printf("[AuthService] повторное использование ротированного refresh токена %s пользователя %q", record.UUID, record.Username)
	s.record(ctx, ports.AuditTokenReuse, record.Username, "rotated token presented")

	if !s.revokeAllOnReuse {
		return
	}

	storeCtx, cancel := s.storeContext(ctx)
	revoked, err := s.tokens.RevokeAll(storeCtx, record.Username)
	cancel()
	if err != nil {
		log.Printf("[AuthService] не удалось отозвать сессии пользователя %q после повторного использования: %v", record.Username, err)
		return
	}
	log.Printf("[AuthService] отозвано %d сессий пользователя %q", revoked, record.Username)
	s.record(ctx, ports.AuditRevokeAll, record.Username, "refresh token reuse")
}

func (s *AuthenticationService) rejectRefresh(ctx context.Context, username string, cause error) error {
	metrics.ObserveOperation(operationRefresh, metrics.ResultRejected)
	s.record(ctx, ports.AuditRefreshRejected, username, cause.Error())
	return autherror.New(autherror.KindInvalidRefreshToken, msgInvalidRefreshToken, cause)
}

// Logout отзывает refresh-токен. Повторный вызов и неизвестный токен не ошибка
func (s *AuthenticationService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		metrics.ObserveOperation(operationLogout, metrics.ResultRejected)
		return autherror.New(autherror.KindValidation, msgRefreshRequired, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	err := s.tokens.Revoke(storeCtx, refreshToken)
	cancel()
	if err != nil {
		return s.storeFailure(operationLogout, "[AuthService] не удалось отозвать рефреш токен", err)
	}

	metrics.ObserveOperation(operationLogout, metrics.ResultSuccess)
	s.record(ctx, ports.AuditLogout, "", "")
	return nil
}

// RevokeAll отзывает все refresh-токены пользователя и возвращает их количество.
// Уже выданные access-токены остаются валидными до истечения
func (s *AuthenticationService) RevokeAll(ctx context.Context, username string) (int64, error) {
	if strings.TrimSpace(username) == "" {
		metrics.ObserveOperation(operationRevokeAll, metrics.ResultRejected)
		return 0, autherror.New(autherror.KindValidation, msgUsernameRequired, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	revoked, err := s.tokens.RevokeAll(storeCtx, username)
	cancel()
	if err != nil {
		return 0, s.storeFailure(operationRevokeAll, "[AuthService] не удалось отозвать токены пользователя", err)
	}

	metrics.ObserveOperation(operationRevokeAll, metrics.ResultSuccess)
	s.record(ctx, ports.AuditRevokeAll, username, "")
	return revoked, nil
}

// ChangePassword меняет пароль пользователя, аутентифицированного access-токеном.
// При неверном старом пароле ничего не меняется
func (s *AuthenticationService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if strings.TrimSpace(username) == "" {
		metrics.ObserveOperation(operationChangePassword, metrics.ResultRejected)
		return autherror.New(autherror.KindUnauthorized, msgUnauthorized, nil)
	}
	if strings.TrimSpace(oldPassword) == "" || strings.TrimSpace(newPassword) == "" {
		metrics.ObserveOperation(operationChangePassword, metrics.ResultRejected)
		return autherror.New(autherror.KindValidation, msgPasswordsRequired, nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	_, err := s.verifier.Verify(storeCtx, username, oldPassword)
	cancel()
	if err != nil {
		var rejected *autherror.Error
		switch {
		case errors.Is(err, autherror.ErrUserNotFound):
			rejected = autherror.New(autherror.KindUserNotFound, msgUserNotFound, err)
		case errors.Is(err, autherror.ErrMalformedRecord):
			rejected = autherror.New(autherror.KindInvalidUser, msgInvalidUser, err)
		case errors.Is(err, autherror.ErrInvalidCredentials):
			rejected = autherror.New(autherror.KindInvalidOldPassword, msgInvalidOldPassword, err)
		default:
			return s.storeFailure(operationChangePassword, "[AuthService] ошибка проверки старого пароля", err)
		}
		metrics.ObserveOperation(operationChangePassword, metrics.ResultRejected)
		s.record(ctx, ports.AuditPasswordRejected, username, err.Error())
		return rejected
	}

	newHash, err := security.HashPassword(newPassword)
	if err != nil {
		metrics.ObserveOperation(operationChangePassword, metrics.ResultRejected)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return autherror.New(autherror.KindValidation, msgNewPasswordTooLong, err)
		}
		log.Printf("[AuthService] ошибка хэширования пароля: %v", err)
		return autherror.New(autherror.KindInternal, msgInternal, err)
	}

	storeCtx, cancel = s.storeContext(ctx)
	updated, err := s.users.UpdatePasswordHash(storeCtx, username, newHash)
	cancel()
	if err != nil {
		return s.storeFailure(operationChangePassword, "[AuthService] не удалось обновить пароль", err)
	}
	if !updated {
		log.Printf("[AuthService] пароль пользователя %q не обновлён", username)
		metrics.ObserveOperation(operationChangePassword, metrics.ResultError)
		return autherror.New(autherror.KindUpdateFailed, msgUpdateFailed, nil)
	}

	metrics.ObserveOperation(operationChangePassword, metrics.ResultSuccess)
	s.record(ctx, ports.AuditPasswordChanged, username, "")

	if s.revokeAllOnPasswordChange {
		storeCtx, cancel = s.storeContext(ctx)
		revoked, err := s.tokens.RevokeAll(storeCtx, username)
		cancel()
		if err != nil {
			// пароль уже сменён, ошибку отзыва только логируем
			log.Printf("[AuthService] не удалось отозвать сессии пользователя %q после смены пароля: %v", username, err)
			return nil
		}
		log.Printf("[AuthService] после смены пароля отозвано %d сессий пользователя %q", revoked, username)
		s.record(ctx, ports.AuditRevokeAll, username, "password changed")
	}

	return nil
}

// ValidateAccessToken возвращает subject валидного access-токена
func (s *AuthenticationService) ValidateAccessToken(accessToken string) (string, error) {
	claims, err := s.validator.ValidateAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, autherror.ErrTokenExpired) {
			return "", autherror.New(autherror.KindTokenExpired, msgTokenExpired, err)
		}
		return "", autherror.New(autherror.KindUnauthorized, msgUnauthorized, err)
	}
	return claims.Subject, nil
}

// issue выпускает access-токен и запись нового refresh-токена со сроком now + 14 дней
func (s *AuthenticationService) issue(username string, now time.Time) (*model.TokensPair, *model.RefreshToken, error) {
	accessToken, accessExpiresAt, err := s.minter.MintAccessToken(username)
	if err != nil {
		return nil, nil, autherror.New(autherror.KindInternal, msgInternal, err)
	}

	refreshToken, err := s.minter.GenerateRefreshToken()
	if err != nil {
		return nil, nil, autherror.New(autherror.KindInternal, msgInternal, err)
	}

	record := &model.RefreshToken{
		UUID:      uuid.New().String(),
		Token:     refreshToken,
		Username:  username,
		CreatedAt: now,
		ExpireAt:  now.Add(model.RefreshTokenLifetime),
	}

	return &model.TokensPair{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshTokenExpiresAt: record.ExpireAt,
	}, record, nil
}

func (s *AuthenticationService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeFailure : сбой хранилища, таймаут или отмена. Решением об аутентификации не является
func (s *AuthenticationService) storeFailure(operation, message string, err error) error {
	log.Printf("%s: %v", message, err)
	metrics.ObserveOperation(operation, metrics.ResultError)
	return autherror.New(autherror.KindStoreUnavailable, msgStoreUnavailable, errors.Join(autherror.ErrStoreUnavailable, err))
}

func (s *AuthenticationService) record(ctx context.Context, eventType ports.AuditEventType, username, reason string) {
	event := ports.AuditEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Username:   username,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		log.Printf("[AuthService] не удалось записать событие аудита %s: %v", eventType, err)
	}
}
