package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAuthenticator(t *testing.T) {
	a := NewStatic(map[string]string{"tok-alice": "alice"})

	info, err := a.CheckAuthentication(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.ActorID())

	_, err = a.CheckAuthentication(context.Background(), "tok-bogus")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.CheckAuthentication(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func signToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestJWTAuthenticator(t *testing.T) {
	secret := []byte("test-secret")
	a, err := NewJWT(JWTConfig{Secret: secret, Issuer: "tutorlink"})
	require.NoError(t, err)

	valid := signToken(t, secret, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "tutorlink",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	info, err := a.CheckAuthentication(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.ActorID())

	t.Run("wrong secret", func(t *testing.T) {
		forged := signToken(t, []byte("other"), jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "tutorlink",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		_, err := a.CheckAuthentication(context.Background(), forged)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		expired := signToken(t, secret, jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "tutorlink",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		_, err := a.CheckAuthentication(context.Background(), expired)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := signToken(t, secret, jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		_, err := a.CheckAuthentication(context.Background(), other)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject", func(t *testing.T) {
		anon := signToken(t, secret, jwt.RegisteredClaims{
			Issuer:    "tutorlink",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		_, err := a.CheckAuthentication(context.Background(), anon)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing secret config", func(t *testing.T) {
		_, err := NewJWT(JWTConfig{})
		require.Error(t, err)
	})
}
