package ports

import "context"

// S3Storage : для S3
type S3Storage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}
