package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTAuthorizer_RoundTrip(t *testing.T) {
	t.Parallel()

	a, err := NewJWTAuthorizer(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := a.GenerateToken(&Principal{Account: "poseidon", Operator: true})
	require.NoError(t, err)

	p, err := a.Authorize(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "poseidon", p.Account)
	assert.True(t, p.Operator)
	assert.False(t, p.IsSubuser())
}

func TestJWTAuthorizer_Subuser(t *testing.T) {
	t.Parallel()

	a, err := NewJWTAuthorizer(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := a.GenerateToken(&Principal{Account: "poseidon", Subuser: "backup"})
	require.NoError(t, err)

	p, err := a.Authorize(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, p.IsSubuser())
	assert.Equal(t, "backup", p.Subuser)
}

func TestJWTAuthorizer_Rejections(t *testing.T) {
	t.Parallel()

	a, err := NewJWTAuthorizer(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	t.Run("EmptyToken", func(t *testing.T) {
		_, err := a.Authorize(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := a.Authorize(context.Background(), "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := NewJWTAuthorizer(JWTConfig{Secret: "ffffffffffffffffffffffffffffffff"})
		require.NoError(t, err)
		token, err := other.GenerateToken(&Principal{Account: "poseidon"})
		require.NoError(t, err)

		_, err = a.Authorize(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		short, err := NewJWTAuthorizer(JWTConfig{Secret: testSecret, TokenDuration: -time.Minute})
		require.NoError(t, err)
		token, err := short.GenerateToken(&Principal{Account: "poseidon"})
		require.NoError(t, err)

		_, err = short.Authorize(context.Background(), token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("ShortSecret", func(t *testing.T) {
		_, err := NewJWTAuthorizer(JWTConfig{Secret: "short"})
		assert.ErrorIs(t, err, ErrInvalidSecretLength)
	})
}
