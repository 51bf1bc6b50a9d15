package ports

import (
	"auth-gateway/internal/model"
	"context"
)

// RefreshTokenStore : хранилище refresh-токенов.
// Токен передаётся в открытом виде, реализация сама хранит только его хэш
type RefreshTokenStore interface {
	Insert(ctx context.Context, token *model.RefreshToken) error
	// FindByToken возвращает autherror.ErrTokenNotFound, если токена нет
	FindByToken(ctx context.Context, token string) (*model.RefreshToken, error)
	// Revoke идемпотентен: отзыв отсутствующего или уже отозванного токена не ошибка
	Revoke(ctx context.Context, token string) error
	// Rotate атомарно отзывает token со ссылкой на successor и сохраняет successor.
	// Если token уже не активен, возвращает autherror.ErrTokenNotActive и ничего не меняет
	Rotate(ctx context.Context, token string, successor *model.RefreshToken) error
	RevokeAll(ctx context.Context, username string) (int64, error)
}
