package handler

import (
	"auth-gateway/internal/autherror"
	"auth-gateway/internal/model/requestresponse"
	"auth-gateway/internal/ports"
	"auth-gateway/internal/security"
	"auth-gateway/internal/util"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
)

const maxBodyBytes = 1 << 20

const (
	msgEmptyRequest    = "Request body cannot be empty."
	msgInvalidJSON     = "Request body is not valid JSON."
	msgLoginOK         = "Login successful."
	msgTokenRefreshed  = "Token refreshed."
	msgLogoutOK        = "Logout successful."
	msgPasswordChanged = "Password changed successfully."
	msgSessionsRevoked = "All sessions revoked."
	msgUnauthorized    = "Unauthorized."
	msgBodyTooLarge    = "Request body is too large."
)

const errorCodeBodyTooLarge = "request_too_large"

var errEmptyBody = errors.New("пустое тело запроса")

type AuthenticationHandler struct {
	service ports.AuthenticationService
}

func NewAuthenticationHandler(service ports.AuthenticationService) *AuthenticationHandler {
	return &AuthenticationHandler{service: service}
}

// Login godoc
// @Summary Аутентификация пользователя
// @Description Выдаёт access и refresh токены по логину и паролю
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.LoginRequest true "Тело запроса"
// @Success 200 {object} requestresponse.TokensResponse "Успешная аутентификация"
// @Failure 400 {object} requestresponse.ErrorResponse "Пустое тело или пустые поля"
// @Failure 401 {object} requestresponse.ErrorResponse "Неверный логин или пароль"
// @Failure 413 {object} requestresponse.ErrorResponse "Слишком большое тело запроса"
// @Failure 429 {object} requestresponse.ErrorResponse "Слишком много запросов"
// @Failure 503 {object} requestresponse.ErrorResponse "Хранилище недоступно"
// @Router /api/auth/login [post]
func (h *AuthenticationHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		sendError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, tokensResponse(msgLoginOK, pair.AccessToken, pair.RefreshToken))
}

// RefreshToken godoc
// @Summary Ротация refresh-токена
// @Description Обменивает действующий refresh-токен на новую пару. Предъявленный токен больше не действует
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.RefreshTokenRequest true "Refresh-токен объектом или JSON-строкой"
// @Success 200 {object} requestresponse.TokensResponse "Новая пара токенов"
// @Failure 400 {object} requestresponse.ErrorResponse "Пустое тело"
// @Failure 401 {object} requestresponse.ErrorResponse "Токен недействителен или просрочен"
// @Failure 429 {object} requestresponse.ErrorResponse "Слишком много запросов"
// @Failure 503 {object} requestresponse.ErrorResponse "Хранилище недоступно"
// @Router /api/auth/refresh-token [post]
func (h *AuthenticationHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.RefreshTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		sendError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, tokensResponse(msgTokenRefreshed, pair.AccessToken, pair.RefreshToken))
}

// Logout godoc
// @Summary Завершение сессии
// @Description Отзывает переданный refresh-токен. Повторный вызов не ошибка
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.RefreshTokenRequest true "Refresh-токен объектом или JSON-строкой"
// @Success 200 {object} requestresponse.MessageResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Failure 503 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/logout [post]
func (h *AuthenticationHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.RefreshTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		sendError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, requestresponse.MessageResponse{Success: true, Message: msgLogoutOK})
}

// ChangePassword godoc
// @Summary Смена пароля
// @Description Меняет пароль текущего пользователя. По умолчанию отзывает все его refresh-токены
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.ChangePasswordRequest true "Старый и новый пароль"
// @Success 200 {object} requestresponse.MessageResponse
// @Failure 400 {object} requestresponse.ErrorResponse "Пустые поля или неверный старый пароль"
// @Failure 401 {object} requestresponse.ErrorResponse "Не авторизован или пользователь не найден"
// @Failure 500 {object} requestresponse.ErrorResponse "Не удалось обновить пароль"
// @Failure 503 {object} requestresponse.ErrorResponse "Хранилище недоступно"
// @Security ApiKeyAuth
// @Router /api/auth/change-password [post]
func (h *AuthenticationHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, err := security.GetClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, string(autherror.KindUnauthorized), msgUnauthorized, http.StatusUnauthorized)
		return
	}

	var req requestresponse.ChangePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.Subject, req.OldPassword, req.NewPassword); err != nil {
		sendError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, requestresponse.MessageResponse{Success: true, Message: msgPasswordChanged})
}

// RevokeAll godoc
// @Summary Отзыв всех сессий
// @Description Отзывает все refresh-токены текущего пользователя. Уже выданные access-токены действуют до истечения
// @Tags Authentication
// @Produce json
// @Success 200 {object} requestresponse.APIResponse{data=requestresponse.RevokeAllData}
// @Failure 401 {object} requestresponse.ErrorResponse
// @Failure 503 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/revoke-all [post]
func (h *AuthenticationHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims, err := security.GetClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, string(autherror.KindUnauthorized), msgUnauthorized, http.StatusUnauthorized)
		return
	}

	revoked, err := h.service.RevokeAll(r.Context(), claims.Subject)
	if err != nil {
		sendError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, requestresponse.APIResponse{
		Success: true,
		Message: msgSessionsRevoked,
		Data:    requestresponse.RevokeAllData{Revoked: revoked},
	})
}

// GetCurrentUser godoc
// @Summary Текущий пользователь
// @Description Возвращает имя пользователя из access-токена
// @Tags Authentication
// @Produce json
// @Success 200 {object} requestresponse.CurrentUserResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/me [get]
func (h *AuthenticationHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, err := security.GetClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, string(autherror.KindUnauthorized), msgUnauthorized, http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := requestresponse.CurrentUserResponse{Success: true, Message: "OK"}
	resp.Data.Username = claims.Subject

	util.WriteJSON(w, http.StatusOK, resp)
}

// GetCurrentUserHead godoc
// @Summary Текущий пользователь
// @Description Проверка access-токена без тела ответа
// @Tags Authentication
// @Success 200
// @Failure 401 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/me [head]
func (h *AuthenticationHandler) GetCurrentUserHead(w http.ResponseWriter, r *http.Request) {
	h.GetCurrentUser(w, r)
}

func tokensResponse(message, accessToken, refreshToken string) requestresponse.TokensResponse {
	return requestresponse.TokensResponse{
		Success: true,
		Message: message,
		Data: requestresponse.TokensData{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		},
	}
}

// decodeBody читает JSON-тело в dst. Пустое тело или null даёт empty_request, тело больше maxBodyBytes даёт 413,
// битый JSON даёт validation_error.
// При false ответ уже записан
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := readJSON(w, r, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errEmptyBody):
		util.HandleError(w, string(autherror.KindEmptyRequest), msgEmptyRequest, http.StatusBadRequest)
	case errors.As(err, new(*http.MaxBytesError)):
		util.HandleError(w, errorCodeBodyTooLarge, msgBodyTooLarge, http.StatusRequestEntityTooLarge)
	default:
		log.Printf("[AuthenticationHandler] некорректный JSON: %v", err)
		util.HandleError(w, string(autherror.KindValidation), msgInvalidJSON, http.StatusBadRequest)
	}
	return false
}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return errEmptyBody
	}

	return json.Unmarshal(body, dst)
}

// sendError переводит ошибку сервиса в HTTP-ответ по её Kind
func sendError(w http.ResponseWriter, err error) {
	kind := autherror.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		log.Printf("[AuthenticationHandler] %v", err)
	}
	if kind == autherror.KindStoreUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	util.HandleError(w, string(kind), autherror.MessageOf(err), status)
}

func statusForKind(kind autherror.Kind) int {
	switch kind {
	case autherror.KindEmptyRequest,
		autherror.KindValidation,
		autherror.KindInvalidOldPassword,
		autherror.KindInvalidUser:
		return http.StatusBadRequest
	case autherror.KindInvalidCredentials,
		autherror.KindInvalidRefreshToken,
		autherror.KindUnauthorized,
		autherror.KindTokenExpired,
		autherror.KindUserNotFound:
		return http.StatusUnauthorized
	case autherror.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
