package jwt

import (
	"testing"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/auth"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *JWTService {
	t.Helper()
	svc, err := NewJWTService("test-secret", "15m")
	require.NoError(t, err)
	return svc.(*JWTService)
}

func TestNewJWTService_InvalidExpiration(t *testing.T) {
	_, err := NewJWTService("secret", "fifteen minutes")
	assert.Error(t, err)
}

func TestGenerateAccessToken(t *testing.T) {
	svc := newTestService(t)

	token, expiresAt, err := svc.GenerateAccessToken("user-1", auth.RoleManager)
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Unix())

	decoded, err := jwtauth.VerifyToken(svc.JWTAuth(), token)
	require.NoError(t, err)
	claims, err := decoded.AsMap(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["user_id"])
	assert.Equal(t, "manager", claims["role"])
	assert.Equal(t, auth.TokenTypeAccess, claims["type"])
}

func TestSSEToken_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, expiresIn, err := svc.GenerateSSEToken("user-1", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 300, expiresIn)

	userID, role, err := svc.ValidateSSEToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, auth.RoleAdmin, role)
}

func TestValidateSSEToken_RejectsAccessToken(t *testing.T) {
	svc := newTestService(t)

	token, _, err := svc.GenerateAccessToken("user-1", auth.RoleAdmin)
	require.NoError(t, err)

	_, _, err = svc.ValidateSSEToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestValidateSSEToken_Expired(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := svc.GenerateSSEToken("user-1", auth.RoleAdmin)
	require.NoError(t, err)

	_, _, err = svc.ValidateSSEToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestValidateSSEToken_Garbage(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.ValidateSSEToken("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
