package security

import (
	"auth-gateway/internal/autherror"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("P@ssw0rd123")
	require.NoError(t, err)

	assert.NoError(t, CheckPassword("P@ssw0rd123", hash))
	assert.ErrorIs(t, CheckPassword("wrong", hash), autherror.ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("P@ssw0rd123", ""), autherror.ErrMalformedRecord)
	assert.ErrorIs(t, CheckPassword("P@ssw0rd123", "plaintext-not-bcrypt"), autherror.ErrMalformedRecord)
}
