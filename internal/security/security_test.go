package security_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatapp/internal/security"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := security.NewTokenService("secret", time.Hour)

	tok, err := svc.CreateForUser(42, "a@example.com", "Alice")
	require.NoError(t, err)

	claims, err := svc.Parse(tok)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "Alice", claims.Name)
}

func TestTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	tok, err := security.NewTokenService("one", time.Hour).CreateForUser(1, "", "")
	require.NoError(t, err)

	_, err = security.NewTokenService("two", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	expired, err := security.NewTokenService("one", -time.Minute).CreateForUser(1, "", "")
	require.NoError(t, err)
	_, err = security.NewTokenService("one", time.Hour).Parse(expired)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	_, err = security.NewTokenService("one", time.Hour).Parse("not-a-token")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestPasswordHasher(t *testing.T) {
	h := security.NewPasswordHasher(4)

	hashed, err := h.Hash("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hashed)

	assert.NoError(t, h.Verify("s3cret!", hashed))
	assert.ErrorIs(t, h.Verify("wrong", hashed), security.ErrPasswordMismatch)
}
