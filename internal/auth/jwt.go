// Package auth issues and validates the admin tokens that guard registry mutations.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"norelock.dev/listenify/providerhost/internal/utils"
)

// RoleAdmin may install, remove and configure providers.
const RoleAdmin = "admin"

// JWT errors
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrTokenGeneration = errors.New("failed to generate token")
	ErrMissingSecret   = errors.New("jwt secret is not configured")
)

// JWTConfig contains configuration for the JWT provider.
type JWTConfig struct {
	// Secret is the signing key for JWTs.
	Secret string `validate:"required,min=16"`

	// Issuer is set on issued tokens and required on validated ones.
	Issuer string `validate:"required"`

	// TokenDuration is how long issued tokens are valid.
	TokenDuration time.Duration `validate:"required"`
}

// Claims are the claims carried by an admin token.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// JWTProvider signs and validates HS256 tokens.
type JWTProvider struct {
	config JWTConfig
	now    func() time.Time
	logger *utils.Logger
}

// NewJWTProvider creates a new JWT provider.
func NewJWTProvider(config JWTConfig, logger *utils.Logger) (*JWTProvider, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	if err := utils.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid jwt config: %w", err)
	}
	return &JWTProvider{
		config: config,
		now:    time.Now,
		logger: logger.Named("jwt_provider"),
	}, nil
}

// GenerateToken creates a token for subject carrying roles.
func (p *JWTProvider) GenerateToken(subject string, roles ...string) (string, error) {
	now := p.now()

	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.config.Secret))
	if err != nil {
		p.logger.Error("Failed to sign JWT token", err, "subject", subject)
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return tokenString, nil
}

// ValidateToken validates a token and returns its claims.
func (p *JWTProvider) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(p.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		p.logger.Debug("Rejected JWT token", "error", err.Error())
		return nil, ErrInvalidToken
	}
	return claims, nil
}
