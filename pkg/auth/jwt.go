// Package auth validates bearer tokens and resolves the caller's
// identity for the HTTP and websocket surfaces.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"boardsync/pkg/common"
	"boardsync/pkg/errors"
)

// Validator verifies HMAC-signed JWTs.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a validator. issuer may be empty to skip the
// issuer check.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer}
}

// Validate parses and verifies a token, returning the identity from
// its claims. DisplayName falls back to the user id when the token
// carries no name claim.
func (v *Validator) Validate(tokenString string) (common.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return common.Identity{}, errors.NewUnauthorizedError("invalid token").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return common.Identity{}, errors.NewUnauthorizedError("unexpected token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return common.Identity{}, errors.NewUnauthorizedError("token has no subject")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = userID
	}
	return common.Identity{UserID: userID, DisplayName: name}, nil
}

// TokenFromRequest extracts a bearer token from the query string, the
// Authorization header or the auth cookie, in that order. Websocket
// clients cannot set headers from the browser, hence the query form.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}
