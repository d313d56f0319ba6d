package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/auth"
	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// sseTokenTTL bounds the lifetime of stream tokens, which travel in query strings.
const sseTokenTTL = 5 * time.Minute

type Service interface {
	GenerateAccessToken(userID string, role auth.Role) (token string, expiresAt int64, err error)
	GenerateSSEToken(userID string, role auth.Role) (token string, expiresIn int, err error)
	ValidateSSEToken(tokenString string) (userID string, role auth.Role, err error)
	JWTAuth() *jwtauth.JWTAuth
}

type JWTService struct {
	accessTokenExpirationTime time.Duration
	tokenAuth                 *jwtauth.JWTAuth
	now                       func() time.Time
}

func (j *JWTService) JWTAuth() *jwtauth.JWTAuth {
	return j.tokenAuth
}

func NewJWTService(secretKey string, accessTokenExpirationTime string) (Service, error) {
	expDuration, err := time.ParseDuration(accessTokenExpirationTime)
	if err != nil {
		return nil, fmt.Errorf("invalid access token expiration %q: %w", accessTokenExpirationTime, err)
	}
	return &JWTService{
		accessTokenExpirationTime: expDuration,
		tokenAuth:                 jwtauth.New("HS256", []byte(secretKey), nil, jwt.WithAcceptableSkew(30*time.Second)),
		now:                       time.Now,
	}, nil
}

func (j *JWTService) GenerateAccessToken(userID string, role auth.Role) (token string, expiresAt int64, err error) {
	expiresAt = j.now().Add(j.accessTokenExpirationTime).Unix()

	_, tokenString, err := j.tokenAuth.Encode(map[string]interface{}{
		"user_id": userID,
		"role":    string(role),
		"type":    auth.TokenTypeAccess,
		"exp":     expiresAt,
	})
	return tokenString, expiresAt, err
}

// GenerateSSEToken generates a short-lived token for SSE connections
func (j *JWTService) GenerateSSEToken(userID string, role auth.Role) (token string, expiresIn int, err error) {
	expiresAt := j.now().Add(sseTokenTTL).Unix()

	_, tokenString, err := j.tokenAuth.Encode(map[string]interface{}{
		"user_id": userID,
		"role":    string(role),
		"type":    auth.TokenTypeSSE,
		"exp":     expiresAt,
	})
	if err != nil {
		return "", 0, err
	}

	return tokenString, int(sseTokenTTL.Seconds()), nil
}

// ValidateSSEToken validates an SSE token and returns its subject
func (j *JWTService) ValidateSSEToken(tokenString string) (userID string, role auth.Role, err error) {
	token, err := jwtauth.VerifyToken(j.tokenAuth, tokenString)
	if err != nil {
		if errors.Is(err, jwtauth.ErrExpired) {
			return "", "", fmt.Errorf("%w: %w", auth.ErrTokenExpired, err)
		}
		return "", "", fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
	}

	// Check token type
	tokenType, ok := token.Get("type")
	if !ok || tokenType != auth.TokenTypeSSE {
		return "", "", auth.ErrInvalidToken
	}

	userIDVal, ok := token.Get("user_id")
	if !ok {
		return "", "", auth.ErrInvalidToken
	}
	userID, ok = userIDVal.(string)
	if !ok || userID == "" {
		return "", "", auth.ErrInvalidToken
	}

	roleVal, _ := token.Get("role")
	roleStr, _ := roleVal.(string)

	return userID, auth.Role(roleStr), nil
}
