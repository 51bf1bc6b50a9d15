package security

import (
	"auth-gateway/internal/autherror"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(hash), nil
}

// CheckPassword сравнивает пароль с bcrypt-хэшем за постоянное время.
// Пустой или битый хэш даёт autherror.ErrMalformedRecord, несовпадение даёт autherror.ErrInvalidCredentials
func CheckPassword(password, hash string) error {
	if hash == "" {
		return autherror.ErrMalformedRecord
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("%w: %v", autherror.ErrMalformedRecord, err)
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword),
		errors.Is(err, bcrypt.ErrPasswordTooLong):
		return autherror.ErrInvalidCredentials
	default:
		return fmt.Errorf("%w: %v", autherror.ErrMalformedRecord, err)
	}
}
