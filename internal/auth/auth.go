// Package auth extracts caller identity from gateway headers and verifies
// the operator token for admin endpoints. Session and password handling
// live in the platform gateway, not here.
package auth

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// UserIDHeader carries the authenticated user id, set by the platform
// gateway after it has verified the caller's session.
const UserIDHeader = "X-User-ID"

// UserID returns the caller identity from the request, or "" when the
// request reached us without one.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

// HashOperatorToken produces the bcrypt hash stored in config for the
// operator token. Exposed for the setup tooling.
func HashOperatorToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyOperatorToken checks a presented bearer token against the
// configured bcrypt hash. An empty hash disables admin access entirely.
func VerifyOperatorToken(token, hash string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
