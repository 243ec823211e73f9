package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/udp-ingest/pkg/crypto"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("s3cret", "", time.Minute)

	token, err := m.GenerateToken("udp-ingest", ScopeIngest)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "udp-ingest", claims.Subject)
	assert.Equal(t, ScopeIngest, claims.Scope)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTManager("one", "", time.Minute).GenerateToken("x", ScopeRead)
	require.NoError(t, err)

	_, err = NewJWTManager("two", "", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewJWTManager("k", "other", time.Minute).GenerateToken("x", ScopeRead)
	require.NoError(t, err)

	_, err = NewJWTManager("k", "udp-ingest", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewJWTManager("k", "", time.Minute)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	m := NewJWTManager("k", "", time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	m := NewJWTManager("k", "", 0)
	assert.True(t, m.VerifyPassword("hunter2", hash))
	assert.False(t, m.VerifyPassword("hunter3", hash))
}
