package security

import (
	"auth-gateway/config"
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/util"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Username string `json:"unique_name,omitempty"`
	jwt.RegisteredClaims
}

// JWTService выпускает и проверяет access-токены (HS256).
// Состояние после создания не меняется, поэтому сервис безопасен для конкурентного использования
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*JWTService)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewJWTService(cfg *config.JWTConfig, opts ...Option) (*JWTService, error) {
	if cfg == nil || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, config.ErrMissingSecret
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		return nil, config.ErrInvalidAccessTTL
	}

	service := &JWTService{
		secret:   []byte(cfg.SecretKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTokenTTL(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// MintAccessToken подписывает access-токен для subject.
// Возвращает токен и момент истечения (с точностью до секунды, как в самом токене)
func (service *JWTService) MintAccessToken(subject string) (string, time.Time, error) {
	now := service.now().UTC()
	expiresAt := jwt.NewNumericDate(now.Add(service.ttl))

	claims := Claims{
		Username: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    service.issuer,
			Audience:  jwt.ClaimStrings{service.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := jwtToken.SignedString(service.secret)
	if err != nil {
		return "", time.Time{}, util.LogError("ошибка подписи токена", err)
	}

	return accessToken, expiresAt.Time, nil
}

// GenerateRefreshToken : непрозрачный refresh-токен без привязки к пользователю
func (service *JWTService) GenerateRefreshToken() (string, error) {
	return GenerateRefreshToken()
}

// ValidateAccessToken проверяет подпись, издателя, аудиторию и срок действия без обращения к хранилищу.
// Ошибки: autherror.ErrTokenMalformed, ErrTokenSignatureInvalid, ErrTokenIssuerMismatch,
// ErrTokenAudienceMismatch, ErrTokenExpired
func (service *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, autherror.ErrTokenMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(service.issuer),
		jwt.WithAudience(service.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(service.now),
	)

	jwtToken, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return service.secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !jwtToken.Valid || claims.Subject == "" {
		return nil, autherror.ErrTokenMalformed
	}

	return claims, nil
}

// classifyJWTError сводит ошибки jwt к внутренним причинам.
// Порядок важен: просроченный токен с чужой подписью считается подделкой, а не просроченным
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", autherror.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", autherror.ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", autherror.ErrTokenIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", autherror.ErrTokenAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", autherror.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", autherror.ErrTokenMalformed, err)
	}
}
