package ports

import (
	"auth-gateway/internal/model"
	"context"
)

// AuthenticationService : жизненный цикл сессии.
// Все ошибки возвращаются как *autherror.Error
type AuthenticationService interface {
	Login(ctx context.Context, username, password string) (*model.TokensPair, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokensPair, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, username string) (int64, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	ValidateAccessToken(accessToken string) (string, error)
}

// CredentialVerifier проверяет пару логин/пароль, ничего не изменяя
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*model.User, error)
}
