// Package auth turns bearer tokens issued by the account service into user
// identities. It never issues tokens.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

type Resolver interface {
	Resolve(token string) (chat.UserID, error)
}

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTResolver(secret string) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

func (r *JWTResolver) Resolve(token string) (chat.UserID, error) {
	const op = "resolve identity"
	token = strings.TrimSpace(token)
	if token == "" {
		return "", chat.Unauthenticated(op, "missing token")
	}
	var claims Claims
	if _, err := r.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}); err != nil {
		return "", chat.Unauthenticated(op, "invalid token")
	}
	raw := claims.UserID
	if raw == "" {
		raw = claims.Subject
	}
	id, err := chat.ParseUserID(raw)
	if err != nil {
		return "", chat.Unauthenticated(op, "token carries no user id")
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
