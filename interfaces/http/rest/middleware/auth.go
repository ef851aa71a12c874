// Package middleware holds the HTTP middleware for the REST surface.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"boardsync/pkg/auth"
	"boardsync/pkg/common"
	"boardsync/pkg/errors"
)

// Authenticate validates the bearer token and stores the caller's
// identity on the request context.
func Authenticate(validator *auth.Validator, logger *zap.Logger) func(next http.Handler) http.Handler {
	limiter := auth.NewIPRateLimiter(100)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				common.RespondJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			token := auth.TokenFromRequest(r)
			if token == "" {
				common.RespondError(w, errors.NewUnauthorizedError("missing authorization"))
				return
			}
			identity, err := validator.Validate(token)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err), zap.String("path", r.URL.Path))
				common.RespondError(w, errors.NewUnauthorizedError("invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(common.WithIdentity(r.Context(), identity)))
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
