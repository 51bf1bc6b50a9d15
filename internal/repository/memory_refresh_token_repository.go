package repository

import (
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/security"
	"context"
	"sync"
	"time"
)

// sweepEvery : раз в столько вставок просроченные записи удаляются по всем пользователям
const sweepEvery = 1024

// MemoryRefreshTokenRepository : refresh-токены в памяти процесса.
// Для локального запуска и тестов, после рестарта все сессии теряются.
// Просроченные записи удаляются при вставке: у того же пользователя сразу, у остальных раз в sweepEvery вставок.
// Ротированные и отозванные записи живут до своего expire_at, чтобы повторное предъявление распознавалось
type MemoryRefreshTokenRepository struct {
	mu      sync.Mutex
	byHash  map[string]*model.RefreshToken
	byUser  map[string]map[string]struct{}
	inserts int
	nowFunc func() time.Time
}

func NewMemoryRefreshTokenRepository() *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{
		byHash:  make(map[string]*model.RefreshToken),
		byUser:  make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

// WithClock подменяет источник времени для отметок revoked_at
func (r *MemoryRefreshTokenRepository) WithClock(now func() time.Time) *MemoryRefreshTokenRepository {
	r.nowFunc = now
	return r
}

func (r *MemoryRefreshTokenRepository) Insert(ctx context.Context, token *model.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareRecord(token); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.insertLocked(token)
	return nil
}

// insertLocked сохраняет запись. Текущим временем для чистки считается CreatedAt новой записи
func (r *MemoryRefreshTokenRepository) insertLocked(token *model.RefreshToken) {
	now := token.CreatedAt
	r.inserts++
	if r.inserts%sweepEvery == 0 {
		for username := range r.byUser {
			r.pruneExpiredLocked(username, now)
		}
	} else {
		r.pruneExpiredLocked(token.Username, now)
	}

	stored := *token
	stored.Token = ""
	r.byHash[stored.TokenHash] = &stored

	hashes, ok := r.byUser[stored.Username]
	if !ok {
		hashes = make(map[string]struct{})
		r.byUser[stored.Username] = hashes
	}
	hashes[stored.TokenHash] = struct{}{}
}

func (r *MemoryRefreshTokenRepository) pruneExpiredLocked(username string, now time.Time) {
	hashes := r.byUser[username]
	for hash := range hashes {
		stored, ok := r.byHash[hash]
		if ok && now.Before(stored.ExpireAt) {
			continue
		}
		delete(r.byHash, hash)
		delete(hashes, hash)
	}
	if len(hashes) == 0 {
		delete(r.byUser, username)
	}
}

func (r *MemoryRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byHash[security.HashRefreshToken(token)]
	if !ok {
		return nil, autherror.ErrTokenNotFound
	}

	return copyRecord(stored), nil
}

func (r *MemoryRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.byHash[security.HashRefreshToken(token)]; ok && !stored.Revoked {
		revokedAt := r.nowFunc().UTC()
		stored.Revoked = true
		stored.RevokedAt = &revokedAt
	}

	return nil
}

func (r *MemoryRefreshTokenRepository) Rotate(ctx context.Context, token string, successor *model.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareRecord(successor); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rotatedAt := successor.CreatedAt.UTC()
	stored, ok := r.byHash[security.HashRefreshToken(token)]
	if !ok || stored.Revoked || !rotatedAt.Before(stored.ExpireAt.UTC()) {
		return autherror.ErrTokenNotActive
	}

	replacedBy := successor.TokenHash
	stored.Revoked = true
	stored.RevokedAt = &rotatedAt
	stored.ReplacedByHash = &replacedBy

	r.insertLocked(successor)
	return nil
}

func (r *MemoryRefreshTokenRepository) RevokeAll(ctx context.Context, username string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	revokedAt := r.nowFunc().UTC()
	var revoked int64
	for hash := range r.byUser[username] {
		stored := r.byHash[hash]
		if stored == nil || stored.Revoked {
			continue
		}
		at := revokedAt
		stored.Revoked = true
		stored.RevokedAt = &at
		revoked++
	}

	return revoked, nil
}

func copyRecord(stored *model.RefreshToken) *model.RefreshToken {
	record := *stored
	if stored.RevokedAt != nil {
		revokedAt := *stored.RevokedAt
		record.RevokedAt = &revokedAt
	}
	if stored.ReplacedByHash != nil {
		replacedBy := *stored.ReplacedByHash
		record.ReplacedByHash = &replacedBy
	}
	return &record
}
