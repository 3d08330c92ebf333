// Package auth validates the bearer credentials presented on socket
// attach and history requests.
package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/paircast/paircast/internal/platform/errors"
)

// TokenValidator resolves a raw credential into a user id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Claims carries the signed identity. The user id travels in the "id"
// claim alongside the registered set.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HS256-signed tokens against a shared secret.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator builds a validator for the given signing secret.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "jwt secret is required")
	}
	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}, nil
}

// Validate parses and verifies the token, returning the embedded user id.
func (v *JWTValidator) Validate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.New(apperrors.CodeAuthFailure, "missing credential")
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthFailure, "invalid credential", err)
	}
	if !parsed.Valid {
		return "", apperrors.New(apperrors.CodeAuthFailure, "invalid credential")
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		return "", apperrors.New(apperrors.CodeAuthFailure, "credential carries no user id")
	}
	return userID, nil
}

var _ TokenValidator = (*JWTValidator)(nil)
