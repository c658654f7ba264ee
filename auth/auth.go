// auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("auth: no access token stored")
	ErrNoUserClaim  = errors.New("auth: token carries no user_id claim")
	ErrInvalidToken = errors.New("auth: token cannot be decoded")
)

// TokenSource yields the bearer token used for REST calls and the realtime
// handshake. It is read at connect time; refreshing tokens is not handled.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, used from env or in tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(string(t)), nil
}

// FileTokenStore keeps the access token as plain text in a local file.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Token(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: read %s: %w", s.Path, err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Save writes tok with owner-only permissions.
func (s FileTokenStore) Save(tok string) error {
	return os.WriteFile(s.Path, []byte(strings.TrimSpace(tok)+"\n"), 0o600)
}

type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserIDFromToken reads the acting player's id from the token without
// verifying its signature. The server verifies; the client only needs to know
// who it is acting as.
func UserIDFromToken(tok string) (int64, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == 0 {
		return 0, ErrNoUserClaim
	}
	return claims.UserID, nil
}
