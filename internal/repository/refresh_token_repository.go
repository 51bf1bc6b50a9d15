package repository

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/security"
	"auth-gateway/internal/util"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RefreshTokenRepository : refresh-токены в Postgres
type RefreshTokenRepository struct {
	*config.Database
	now func() time.Time
}

func NewRefreshTokenRepository(database *config.Database) *RefreshTokenRepository {
	return &RefreshTokenRepository{Database: database, now: time.Now}
}

// prepareRecord заполняет хэш и uuid записи перед сохранением
func prepareRecord(token *model.RefreshToken) error {
	if token == nil || (token.Token == "" && token.TokenHash == "") {
		return errors.New("пустой refresh-токен")
	}
	if token.TokenHash == "" {
		token.TokenHash = security.HashRefreshToken(token.Token)
	}
	if token.UUID == "" {
		token.UUID = uuid.New().String()
	}
	return nil
}

func storeError(message string, err error) error {
	return fmt.Errorf("%w: %v", autherror.ErrStoreUnavailable, util.LogError(message, err))
}

// Insert сохраняет новый активный refresh-токен
func (r *RefreshTokenRepository) Insert(ctx context.Context, token *model.RefreshToken) error {
	if err := prepareRecord(token); err != nil {
		return err
	}
	return insertRefreshToken(ctx, r.DB, token)
}

func insertRefreshToken(ctx context.Context, exec sqlx.ExecerContext, token *model.RefreshToken) error {
	query := `INSERT INTO refresh_tokens (uuid, token_hash, username, created_at, expire_at, revoked)
				VALUES ($1, $2, $3, $4, $5, FALSE)`

	_, err := exec.ExecContext(ctx, query,
		token.UUID,
		token.TokenHash,
		token.Username,
		token.CreatedAt.UTC(),
		token.ExpireAt.UTC(),
	)
	if err != nil {
		return storeError("[RefreshTokenRepo] ошибка вставки данных в БД", err)
	}

	return nil
}

// FindByToken ищет refresh-токен по его хэшу
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	query := `SELECT uuid, token_hash, username, created_at, expire_at, revoked, revoked_at, replaced_by_hash
				FROM refresh_tokens WHERE token_hash = $1`

	var refreshToken model.RefreshToken
	err := sqlx.GetContext(ctx, r.DB, &refreshToken, query, security.HashRefreshToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherror.ErrTokenNotFound
		}
		return nil, storeError("[RefreshTokenRepo] ошибка при выполнении запроса", err)
	}

	return &refreshToken, nil
}

// Revoke отзывает токен без преемника. Повторный отзыв ничего не меняет
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND revoked = FALSE`

	if _, err := r.DB.ExecContext(ctx, query, security.HashRefreshToken(token), r.now().UTC()); err != nil {
		return storeError("[RefreshTokenRepo] не удалось отозвать токен", err)
	}

	return nil
}

// Rotate в одной транзакции отзывает token со ссылкой на преемника и сохраняет преемника.
// UPDATE с условием revoked = FALSE служит compare-and-swap: из двух параллельных ротаций проходит одна
func (r *RefreshTokenRepository) Rotate(ctx context.Context, token string, successor *model.RefreshToken) error {
	if err := prepareRecord(successor); err != nil {
		return err
	}

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return storeError("[RefreshTokenRepo] не удалось начать транзакцию", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rotatedAt := successor.CreatedAt.UTC()
	query := `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3, replaced_by_hash = $2
				WHERE token_hash = $1 AND revoked = FALSE AND expire_at > $3`

	result, err := tx.ExecContext(ctx, query, security.HashRefreshToken(token), successor.TokenHash, rotatedAt)
	if err != nil {
		return storeError("[RefreshTokenRepo] не удалось ротировать токен", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeError("[RefreshTokenRepo] не удалось проверить, ротирован ли токен", err)
	}
	if rowsAffected == 0 {
		return autherror.ErrTokenNotActive
	}

	if err := insertRefreshToken(ctx, tx, successor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError("[RefreshTokenRepo] не удалось зафиксировать ротацию", err)
	}

	return nil
}

// RevokeAll отзывает все действующие токены пользователя и возвращает их количество
func (r *RefreshTokenRepository) RevokeAll(ctx context.Context, username string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE username = $1 AND revoked = FALSE`

	result, err := r.DB.ExecContext(ctx, query, username, r.now().UTC())
	if err != nil {
		return 0, storeError("[RefreshTokenRepo] не удалось отозвать токены пользователя", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, storeError("[RefreshTokenRepo] не удалось посчитать отозванные токены", err)
	}

	return rowsAffected, nil
}
