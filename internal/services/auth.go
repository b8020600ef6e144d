package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenVerifier validates the bearer tokens minted by the identity provider.
// Token issuance itself is external; GenerateJWT exists for tooling and
// tests.
type TokenVerifier struct {
	secret string
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// GenerateJWT generates a signed token for a user
func (v *TokenVerifier) GenerateJWT(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"jti":     uuid.New().String(),
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(v.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a token and returns the session derived from it: the
// user identity plus the token's unique id as the session id.
func (v *TokenVerifier) ValidateJWT(tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, fmt.Errorf("user_id not found in token")
	}

	sessionID, _ := claims["jti"].(string)
	if sessionID == "" {
		sessionID = userID
	}

	return &Session{ID: sessionID, UserID: userID}, nil
}
