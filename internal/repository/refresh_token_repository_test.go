package repository

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/security"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDatabase(t *testing.T) (*config.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &config.Database{DB: sqlx.NewDb(db, "postgres")}, mock
}

func TestRefreshTokenRepository_Insert(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	createdAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	token := &model.RefreshToken{
		Token:     "plain-refresh",
		Username:  "alice",
		CreatedAt: createdAt,
		ExpireAt:  createdAt.Add(model.RefreshTokenLifetime),
	}

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_tokens`).
		WithArgs(sqlmock.AnyArg(), security.HashRefreshToken("plain-refresh"), "alice", createdAt, createdAt.Add(model.RefreshTokenLifetime)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), token))
	assert.NotEmpty(t, token.UUID)
	assert.Equal(t, security.HashRefreshToken("plain-refresh"), token.TokenHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_InsertRejectsEmpty(t *testing.T) {
	database, _ := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	assert.Error(t, repo.Insert(context.Background(), &model.RefreshToken{Username: "alice"}))
}

func TestRefreshTokenRepository_FindByToken(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	createdAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	hash := security.HashRefreshToken("plain-refresh")
	rows := sqlmock.NewRows([]string{"uuid", "token_hash", "username", "created_at", "expire_at", "revoked", "revoked_at", "replaced_by_hash"}).
		AddRow("b6a1e1c4-4b1d-4f1e-8b29-1234567890ab", hash, "alice", createdAt, createdAt.Add(model.RefreshTokenLifetime), true, createdAt, "next-hash")

	mock.ExpectQuery(`(?s)^SELECT\s+uuid,.*FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1`).
		WithArgs(hash).
		WillReturnRows(rows)

	got, err := repo.FindByToken(context.Background(), "plain-refresh")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.ReplacedByHash)
	assert.Equal(t, "next-hash", *got.ReplacedByHash)
	assert.Equal(t, model.TokenRotated, got.State(createdAt))
	assert.Empty(t, got.Token)
}

func TestRefreshTokenRepository_FindByTokenNotFound(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	mock.ExpectQuery(`(?s)^SELECT\s+uuid,.*FROM\s+refresh_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"uuid"}))

	_, err := repo.FindByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, autherror.ErrTokenNotFound)
}

func TestRefreshTokenRepository_FindByTokenDBError(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	mock.ExpectQuery(`(?s)^SELECT\s+uuid,.*FROM\s+refresh_tokens`).
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByToken(context.Background(), "plain-refresh")
	assert.ErrorIs(t, err, autherror.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, autherror.ErrTokenNotFound)
}

func TestRefreshTokenRepository_RevokeIsIdempotent(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)
	hash := security.HashRefreshToken("plain-refresh")

	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE.*WHERE\s+token_hash\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE`).
		WithArgs(hash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens`).
		WithArgs(hash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Revoke(context.Background(), "plain-refresh"))
	assert.NoError(t, repo.Revoke(context.Background(), "plain-refresh"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Rotate(t *testing.T) {
	rotatedAt := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	oldHash := security.HashRefreshToken("old")
	newHash := security.HashRefreshToken("new")

	newSuccessor := func() *model.RefreshToken {
		return &model.RefreshToken{
			Token:     "new",
			Username:  "alice",
			CreatedAt: rotatedAt,
			ExpireAt:  rotatedAt.Add(model.RefreshTokenLifetime),
		}
	}

	t.Run("success", func(t *testing.T) {
		database, mock := newMockDatabase(t)
		repo := NewRefreshTokenRepository(database)

		mock.ExpectBegin()
		mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE.*replaced_by_hash\s*=\s*\$2.*expire_at\s*>\s*\$3`).
			WithArgs(oldHash, newHash, rotatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_tokens`).
			WithArgs(sqlmock.AnyArg(), newHash, "alice", rotatedAt, rotatedAt.Add(model.RefreshTokenLifetime)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Rotate(context.Background(), "old", newSuccessor()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not active", func(t *testing.T) {
		database, mock := newMockDatabase(t)
		repo := NewRefreshTokenRepository(database)

		mock.ExpectBegin()
		mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens`).
			WithArgs(oldHash, newHash, rotatedAt).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Rotate(context.Background(), "old", newSuccessor())
		assert.ErrorIs(t, err, autherror.ErrTokenNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		database, mock := newMockDatabase(t)
		repo := NewRefreshTokenRepository(database)

		mock.ExpectBegin()
		mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_tokens`).
			WillReturnError(errors.New("unique violation"))
		mock.ExpectRollback()

		err := repo.Rotate(context.Background(), "old", newSuccessor())
		assert.ErrorIs(t, err, autherror.ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefreshTokenRepository_RevokeAll(t *testing.T) {
	database, mock := newMockDatabase(t)
	repo := NewRefreshTokenRepository(database)

	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE.*WHERE\s+username\s*=\s*\$1`).
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.RevokeAll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
