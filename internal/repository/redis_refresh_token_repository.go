package repository

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model"
	"auth-gateway/internal/security"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Запись токена хранится в hash {prefix}:token:<sha256>, множество {prefix}:user:<username>
// индексирует хэши токенов пользователя. Время хранится в unix-миллисекундах.
// Префикс в фигурных скобках это hash tag: все ключи попадают в один слот Redis Cluster,
// поэтому скрипты могут трогать ключи токенов, найденные через множество пользователя
const (
	fieldUUID           = "uuid"
	fieldUsername       = "username"
	fieldCreatedAt      = "created_at"
	fieldExpireAt       = "expire_at"
	fieldRevoked        = "revoked"
	fieldRevokedAt      = "revoked_at"
	fieldReplacedByHash = "replaced_by_hash"
)

const rotateRefreshScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local user_key = KEYS[3]
local new_hash = ARGV[1]
local now_ms = tonumber(ARGV[2])

if redis.call("EXISTS", old_key) == 0 then
  return 0
end

local state = redis.call("HMGET", old_key, "revoked", "expire_at")
if state[1] ~= "0" then
  return 0
end
local expire_at = tonumber(state[2])
if not expire_at or expire_at <= now_ms then
  return 0
end

redis.call("HSET", old_key, "revoked", "1", "revoked_at", ARGV[2], "replaced_by_hash", new_hash)
redis.call("HSET", new_key,
  "uuid", ARGV[3],
  "username", ARGV[4],
  "created_at", ARGV[2],
  "expire_at", ARGV[5],
  "revoked", "0")
redis.call("PEXPIREAT", new_key, ARGV[5])
redis.call("SADD", user_key, new_hash)
redis.call("PEXPIREAT", user_key, ARGV[5])

return 1
`

const revokeRefreshScript = `
if redis.call("HGET", KEYS[1], "revoked") == "0" then
  redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1])
  return 1
end
return 0
`

const revokeAllRefreshScript = `
local user_key = KEYS[1]
local token_prefix = ARGV[1]
local now_ms = ARGV[2]
local revoked = 0

local hashes = redis.call("SMEMBERS", user_key)
for _, hash in ipairs(hashes) do
  local key = token_prefix .. hash
  local state = redis.call("HGET", key, "revoked")
  if not state then
    redis.call("SREM", user_key, hash)
  elseif state == "0" then
    redis.call("HSET", key, "revoked", "1", "revoked_at", now_ms)
    revoked = revoked + 1
  end
end

return revoked
`

var (
	rotateRefreshLua    = redis.NewScript(rotateRefreshScript)
	revokeRefreshLua    = redis.NewScript(revokeRefreshScript)
	revokeAllRefreshLua = redis.NewScript(revokeAllRefreshScript)
)

// RedisRefreshTokenRepository : refresh-токены в Redis.
// Ротация и массовый отзыв выполняются Lua-скриптами, поэтому атомарны
type RedisRefreshTokenRepository struct {
	client *config.RedisClient
	prefix string
	now    func() time.Time
}

func NewRedisRefreshTokenRepository(rdb *config.RedisClient, prefix string) *RedisRefreshTokenRepository {
	if prefix == "" {
		prefix = "refresh"
	}
	return &RedisRefreshTokenRepository{client: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisRefreshTokenRepository) keyPrefix() string {
	return "{" + r.prefix + "}"
}

func (r *RedisRefreshTokenRepository) tokenKey(hash string) string {
	return r.keyPrefix() + ":token:" + hash
}

func (r *RedisRefreshTokenRepository) userKey(username string) string {
	return r.keyPrefix() + ":user:" + username
}

func (r *RedisRefreshTokenRepository) Insert(ctx context.Context, token *model.RefreshToken) error {
	if err := prepareRecord(token); err != nil {
		return err
	}

	key := r.tokenKey(token.TokenHash)
	expireAt := token.ExpireAt.UTC()

	_, err := r.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUUID, token.UUID,
			fieldUsername, token.Username,
			fieldCreatedAt, token.CreatedAt.UTC().UnixMilli(),
			fieldExpireAt, expireAt.UnixMilli(),
			fieldRevoked, "0",
		)
		pipe.PExpireAt(ctx, key, expireAt)
		pipe.SAdd(ctx, r.userKey(token.Username), token.TokenHash)
		pipe.PExpireAt(ctx, r.userKey(token.Username), expireAt)
		return nil
	})
	if err != nil {
		return storeError("[RedisRefreshTokenRepo] ошибка сохранения в Redis", err)
	}

	return nil
}

func (r *RedisRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	hash := security.HashRefreshToken(token)

	values, err := r.client.Client.HGetAll(ctx, r.tokenKey(hash)).Result()
	if err != nil {
		return nil, storeError("[RedisRefreshTokenRepo] ошибка получения токена из Redis", err)
	}
	if len(values) == 0 {
		return nil, autherror.ErrTokenNotFound
	}

	refreshToken, err := decodeRefreshToken(hash, values)
	if err != nil {
		return nil, storeError("[RedisRefreshTokenRepo] повреждённая запись токена", err)
	}

	return refreshToken, nil
}

func (r *RedisRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	key := r.tokenKey(security.HashRefreshToken(token))
	nowMs := r.now().UTC().UnixMilli()

	if err := revokeRefreshLua.Run(ctx, r.client.Client, []string{key}, nowMs).Err(); err != nil {
		return storeError("[RedisRefreshTokenRepo] не удалось отозвать токен", err)
	}

	return nil
}

func (r *RedisRefreshTokenRepository) Rotate(ctx context.Context, token string, successor *model.RefreshToken) error {
	if err := prepareRecord(successor); err != nil {
		return err
	}

	keys := []string{
		r.tokenKey(security.HashRefreshToken(token)),
		r.tokenKey(successor.TokenHash),
		r.userKey(successor.Username),
	}

	rotated, err := rotateRefreshLua.Run(ctx, r.client.Client, keys,
		successor.TokenHash,
		successor.CreatedAt.UTC().UnixMilli(),
		successor.UUID,
		successor.Username,
		successor.ExpireAt.UTC().UnixMilli(),
	).Int64()
	if err != nil {
		return storeError("[RedisRefreshTokenRepo] не удалось ротировать токен", err)
	}
	if rotated == 0 {
		return autherror.ErrTokenNotActive
	}

	return nil
}

func (r *RedisRefreshTokenRepository) RevokeAll(ctx context.Context, username string) (int64, error) {
	revoked, err := revokeAllRefreshLua.Run(ctx, r.client.Client,
		[]string{r.userKey(username)},
		r.keyPrefix()+":token:",
		r.now().UTC().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, storeError("[RedisRefreshTokenRepo] не удалось отозвать токены пользователя", err)
	}

	return revoked, nil
}

func decodeRefreshToken(hash string, values map[string]string) (*model.RefreshToken, error) {
	createdAt, err := parseMillis(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	expireAt, err := parseMillis(values[fieldExpireAt])
	if err != nil {
		return nil, fmt.Errorf("expire_at: %w", err)
	}

	refreshToken := &model.RefreshToken{
		UUID:      values[fieldUUID],
		TokenHash: hash,
		Username:  values[fieldUsername],
		CreatedAt: createdAt,
		ExpireAt:  expireAt,
		Revoked:   values[fieldRevoked] == "1",
	}

	if raw, ok := values[fieldRevokedAt]; ok && raw != "" {
		revokedAt, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("revoked_at: %w", err)
		}
		refreshToken.RevokedAt = &revokedAt
	}
	if replacedBy, ok := values[fieldReplacedByHash]; ok && replacedBy != "" {
		refreshToken.ReplacedByHash = &replacedBy
	}

	return refreshToken, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
