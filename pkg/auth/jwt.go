package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSecretLength rejects signing keys too short for HMAC use.
var ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")

// JWTConfig holds the JWT authorizer configuration.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "shoal".
	Issuer string

	// TokenDuration is the token lifetime. Default: 1 hour.
	TokenDuration time.Duration
}

// Claims are the gateway's token claims.
type Claims struct {
	jwt.RegisteredClaims

	Account  string `json:"account"`
	Subuser  string `json:"subuser,omitempty"`
	Operator bool   `json:"operator,omitempty"`
}

// JWTAuthorizer validates HMAC-signed bearer tokens.
type JWTAuthorizer struct {
	config JWTConfig
}

// NewJWTAuthorizer creates a JWT authorizer with the given configuration.
func NewJWTAuthorizer(config JWTConfig) (*JWTAuthorizer, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "shoal"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = time.Hour
	}
	return &JWTAuthorizer{config: config}, nil
}

// GenerateToken signs a token for the principal.
func (a *JWTAuthorizer) GenerateToken(p *Principal) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   p.Account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
		},
		Account:  p.Account,
		Subuser:  p.Subuser,
		Operator: p.Operator,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authorize validates the token and returns its principal.
func (a *JWTAuthorizer) Authorize(_ context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrNoCredential
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Account == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{
		Account:  claims.Account,
		Subuser:  claims.Subuser,
		Operator: claims.Operator,
	}, nil
}
