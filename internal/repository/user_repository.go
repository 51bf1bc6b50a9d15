package repository

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/util"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type UserRepository struct {
	*config.Database
}

func NewUserRepository(database *config.Database) *UserRepository {
	return &UserRepository{database}
}

// FindByUsername : ищет пользователя по username.
// Неактивная учётная запись считается отсутствующей
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT username, COALESCE(password_hash, '') AS password_hash, is_active, created_at, updated_at
				FROM users WHERE username = $1`

	var user model.User
	err := sqlx.GetContext(ctx, r.DB, &user, query, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherror.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", autherror.ErrStoreUnavailable,
			util.LogError("[UserRepo] не удалось найти пользователя по username", err))
	}

	if !user.IsActive {
		return nil, autherror.ErrUserNotFound
	}

	return &user, nil
}

// UpdatePasswordHash : сохраняет новый хэш пароля.
// Возвращает false, если пользователь не найден
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) (bool, error) {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE username = $1`

	result, err := r.DB.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", autherror.ErrStoreUnavailable,
			util.LogError("[UserRepo] не удалось обновить пароль", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, util.LogError("[UserRepo] не удалось проверить, обновлён ли пароль", err)
	}

	return rowsAffected > 0, nil
}
