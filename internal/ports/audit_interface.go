package ports

import (
	"context"
	"time"
)

type AuditEventType string

const (
	AuditLoginSucceeded   AuditEventType = "login_succeeded"
	AuditLoginFailed      AuditEventType = "login_failed"
	AuditTokenRefreshed   AuditEventType = "token_refreshed"
	AuditRefreshRejected  AuditEventType = "refresh_rejected"
	AuditTokenReuse       AuditEventType = "refresh_token_reuse"
	AuditLogout           AuditEventType = "logout"
	AuditRevokeAll        AuditEventType = "revoke_all"
	AuditPasswordChanged  AuditEventType = "password_changed"
	AuditPasswordRejected AuditEventType = "password_change_rejected"
)

// AuditEvent : событие безопасности. Токены в событие не попадают
type AuditEvent struct {
	ID         string         `json:"id"`
	Type       AuditEventType `json:"type"`
	Username   string         `json:"username,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AuditSink : получатель событий. Ошибка записи не должна ломать операцию
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}
