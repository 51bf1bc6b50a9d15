package ports

import (
	"auth-gateway/internal/model"
	"context"
)

// IdentityRepository : хранилище учётных записей.
// FindByUsername возвращает autherror.ErrUserNotFound, если записи нет
type IdentityRepository interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) (bool, error)
}
