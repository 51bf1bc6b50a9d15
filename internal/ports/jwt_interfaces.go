package ports

import (
	"auth-gateway/internal/security"
	"time"
)

type TokenMinter interface {
	MintAccessToken(subject string) (string, time.Time, error)
	GenerateRefreshToken() (string, error)
}

type AccessValidator interface {
	ValidateAccessToken(tokenString string) (*security.Claims, error)
}
