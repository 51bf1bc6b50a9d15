package service

import (
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/ports"
	"auth-gateway/internal/security"
	"context"
	"errors"
	"fmt"
	"sync"
)

// CredentialVerifier сверяет пару логин/пароль с хранилищем учётных записей. Ничего не изменяет
type CredentialVerifier struct {
	users ports.IdentityRepository
}

func NewCredentialVerifier(users ports.IdentityRepository) *CredentialVerifier {
	return &CredentialVerifier{users: users}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming выполняет bcrypt-сравнение впустую, чтобы ответ для несуществующего
// пользователя или битого хэша занимал столько же времени, сколько обычная проверка пароля
var equalizeTiming = func(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = security.HashPassword("timing-equalizer")
	})
	_ = security.CheckPassword(password, dummyHash)
}

// Verify возвращает пользователя, если пароль верный.
// Ошибки: autherror.ErrUserNotFound, ErrMalformedRecord, ErrInvalidCredentials, ErrStoreUnavailable
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*model.User, error) {
	user, err := v.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, autherror.ErrUserNotFound) {
			equalizeTiming(password)
			return nil, autherror.ErrUserNotFound
		}
		if errors.Is(err, autherror.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", autherror.ErrStoreUnavailable, err)
	}

	if user == nil || !user.IsActive {
		equalizeTiming(password)
		return nil, autherror.ErrUserNotFound
	}

	if err := security.CheckPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, autherror.ErrMalformedRecord) {
			equalizeTiming(password)
		}
		return nil, err
	}

	return user, nil
}
