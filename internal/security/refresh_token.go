package security

import (
	"auth-gateway/internal/util"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const refreshTokenBytes = 64

// GenerateRefreshToken : 64 случайных байта в base64url без паддинга.
// Токен отдаётся клиенту, в хранилище попадает только HashRefreshToken(token)
func GenerateRefreshToken() (string, error) {
	tokenBytes := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", util.LogError("ошибка генерации рефреш токена", err)
	}

	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// HashRefreshToken : sha256 в hex, ключ поиска токена в хранилище
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
