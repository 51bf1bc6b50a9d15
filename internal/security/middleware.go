package security

import (
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/util"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// Коды ошибок bearer-аутентификации
const (
	ErrorCodeTokenExpired = "TOKEN_EXPIRED"
	ErrorCodeInvalidToken = "INVALID_TOKEN"
	ErrorCodeUnauthorized = "UNAUTHORIZED"
)

type accessValidator interface {
	ValidateAccessToken(tokenString string) (*Claims, error)
}

// JWTMiddleware пропускает запрос дальше только с валидным Bearer access-токеном.
// Хранилище не используется: отзыв refresh-токенов на уже выданные access-токены не влияет
func JWTMiddleware(validator accessValidator) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(handleAuthentication(validator, next))
	}
}

func handleAuthentication(validator accessValidator, next http.Handler) func(writer http.ResponseWriter, request *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		token, ok := BearerToken(request)
		if !ok {
			writer.Header().Set("WWW-Authenticate", "Bearer")
			util.HandleError(writer, ErrorCodeUnauthorized, "You are not authorized", http.StatusUnauthorized)
			return
		}

		claims, err := validator.ValidateAccessToken(token)
		if err != nil {
			log.Printf("невалидный токен: %v", err)
			if errors.Is(err, autherror.ErrTokenExpired) {
				writer.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
				util.HandleError(writer, ErrorCodeTokenExpired, "Token has expired", http.StatusUnauthorized)
				return
			}
			writer.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			util.HandleError(writer, ErrorCodeInvalidToken, "Invalid token", http.StatusUnauthorized)
			return
		}

		req := request.WithContext(context.WithValue(request.Context(), UserContextKey, claims))
		next.ServeHTTP(writer, req)
	}
}

// BearerToken достаёт токен из заголовка Authorization
func BearerToken(request *http.Request) (string, bool) {
	authorizationHeader := request.Header.Get("Authorization")
	if len(authorizationHeader) < len("Bearer ") || !strings.EqualFold(authorizationHeader[:len("Bearer ")], "Bearer ") {
		return "", false
	}

	token := strings.TrimSpace(authorizationHeader[len("Bearer "):])
	return token, token != ""
}

func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("пользователь не авторизован")
	}
	return claims, nil
}
