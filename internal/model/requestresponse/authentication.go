package requestresponse

import (
	"bytes"
	"encoding/json"
)

// APIResponse : общий конверт ответа auth-эндпоинтов
type APIResponse struct {
	Success bool        `json:"success" example:"false"`
	Error   string      `json:"error,omitempty" example:"invalid_credentials"`
	Message string      `json:"message" example:"Username or password is incorrect."`
	Data    interface{} `json:"data,omitempty"`
}

// LoginRequest : тело запроса на аутентификацию
type LoginRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"P@ssw0rd123"`
}

// TokensData : пара токенов в поле data
type TokensData struct {
	AccessToken  string `json:"accessToken" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	RefreshToken string `json:"refreshToken" example:"vcSi0369y1I62wOpxZFpgZ..."`
}

// TokensResponse : ответ на login и refresh-token
type TokensResponse struct {
	Success bool       `json:"success" example:"true"`
	Message string     `json:"message" example:"Login successful."`
	Data    TokensData `json:"data"`
}

// RefreshTokenRequest : refresh-токен в теле запроса.
// Принимается как объект {"refreshToken": "..."} или как голая JSON-строка
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" example:"vcSi0369y1I62wOpxZFpgZ..."`
}

func (r *RefreshTokenRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &r.RefreshToken)
	}

	type plain RefreshTokenRequest
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = RefreshTokenRequest(p)
	return nil
}

// ChangePasswordRequest : смена пароля текущего пользователя
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" example:"P@ssw0rd123"`
	NewPassword string `json:"newPassword" example:"N3wP@ssw0rd!"`
}

// MessageResponse : успешный ответ без данных
type MessageResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Logout successful."`
}

// ErrorResponse : ответ с ошибкой
type ErrorResponse struct {
	Success bool   `json:"success" example:"false"`
	Error   string `json:"error" example:"invalid_refresh_token"`
	Message string `json:"message" example:"Refresh token is invalid or expired."`
}

// CurrentUserData : информация о текущем пользователе
type CurrentUserData struct {
	Username string `json:"username" example:"alice"`
}

type CurrentUserResponse struct {
	Success bool            `json:"success" example:"true"`
	Message string          `json:"message" example:"OK"`
	Data    CurrentUserData `json:"data"`
}

// RevokeAllData : сколько сессий было отозвано
type RevokeAllData struct {
	Revoked int64 `json:"revoked" example:"3"`
}
