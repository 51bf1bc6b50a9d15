package model

import "time"

// RefreshTokenLifetime : абсолютное время жизни refresh-токена от момента выпуска
const RefreshTokenLifetime = 14 * 24 * time.Hour

type TokenState string

const (
	TokenActive  TokenState = "active"
	TokenRotated TokenState = "rotated"
	TokenRevoked TokenState = "revoked"
	TokenExpired TokenState = "expired"
)

// RefreshToken : запись refresh-токена в хранилище.
// Token заполняется только при выпуске и никогда не читается из хранилища,
// там лежит TokenHash (sha256). ReplacedByHash указывает на преемника в цепочке ротации
type RefreshToken struct {
	UUID           string     `db:"uuid"`
	Token          string     `db:"-"`
	TokenHash      string     `db:"token_hash"`
	Username       string     `db:"username"`
	CreatedAt      time.Time  `db:"created_at"`
	ExpireAt       time.Time  `db:"expire_at"`
	Revoked        bool       `db:"revoked"`
	RevokedAt      *time.Time `db:"revoked_at"`
	ReplacedByHash *string    `db:"replaced_by_hash"`
}

// State вычисляет состояние токена на момент now. Срок действия проверяется без допуска
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.Revoked && t.ReplacedByHash != nil && *t.ReplacedByHash != "":
		return TokenRotated
	case t.Revoked:
		return TokenRevoked
	case !now.UTC().Before(t.ExpireAt.UTC()):
		return TokenExpired
	default:
		return TokenActive
	}
}

// TokensPair содержит пару access и refresh токенов
// swagger:model
type TokensPair struct {
	// Access токен (JWT)
	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	AccessToken string `json:"accessToken"`

	// Refresh токен (для получения новой пары)
	// example: vcSi0369y1I62wOpxZFpgZ...
	RefreshToken string `json:"refreshToken"`

	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}
