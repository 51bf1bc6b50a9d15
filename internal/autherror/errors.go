// Package autherror описывает таксономию ошибок ядра аутентификации.
// Каждая операция сервиса возвращает *Error с Kind, по которому HTTP-слой выбирает ответ,
// а внутренняя причина доступна через errors.Is / errors.As.
package autherror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindEmptyRequest        Kind = "empty_request"
	KindValidation          Kind = "validation_error"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindInvalidUser         Kind = "invalid_user"
	KindInvalidRefreshToken Kind = "invalid_refresh_token"
	KindUnauthorized        Kind = "unauthorized"
	KindTokenExpired        Kind = "token_expired"
	KindUserNotFound        Kind = "user_not_found"
	KindInvalidOldPassword  Kind = "invalid_old_password"
	KindUpdateFailed        Kind = "update_failed"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindInternal            Kind = "internal_error"
)

// Внутренние причины. Наружу отдаются только через Kind
var (
	ErrUserNotFound       = errors.New("пользователь не найден")
	ErrMalformedRecord    = errors.New("хэш пароля в хранилище пуст или повреждён")
	ErrInvalidCredentials = errors.New("неверный логин или пароль")

	ErrTokenMalformed        = errors.New("токен имеет неверный формат")
	ErrTokenSignatureInvalid = errors.New("неверная подпись токена")
	ErrTokenIssuerMismatch   = errors.New("неверный издатель токена")
	ErrTokenAudienceMismatch = errors.New("неверная аудитория токена")
	ErrTokenExpired          = errors.New("срок действия токена истёк")

	ErrTokenNotFound  = errors.New("refresh-токен не найден")
	ErrTokenNotActive = errors.New("refresh-токен уже отозван, ротирован или просрочен")
	ErrTokenReused    = errors.New("повторное использование ротированного refresh-токена")

	ErrStoreUnavailable = errors.New("хранилище недоступно")
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf возвращает Kind ошибки. Всё, что не *Error, считается внутренней ошибкой
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}

// MessageOf : сообщение, безопасное для клиента
func MessageOf(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return "Internal server error."
}
