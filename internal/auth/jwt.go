package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tsanders-rh/panelctl/pkg/types"
)

const issuer = "panelctl"

// Claims represents JWT claims with custom fields
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates bearer tokens. Tokens are issued by an external identity
// service sharing the secret; Issue exists for operators and tests.
type Auth struct {
	jwtSecret []byte
	ttl       time.Duration
}

// NewAuth creates a new Auth instance
func NewAuth(jwtSecret string, ttl time.Duration) *Auth {
	return &Auth{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
	}
}

// Issue signs an access token for a user
func (a *Auth) Issue(userID string, role types.UserRole) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken validates and parses a JWT access token
func (a *Auth) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" || !types.UserRole(claims.Role).IsValid() {
		return nil, errors.New("token is missing user or role")
	}

	return claims, nil
}
