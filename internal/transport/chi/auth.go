package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/domain/auth"
	logpkg "github.com/kailas-cloud/listsync/internal/logger"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// Token is a static API credential and the roles it grants.
type Token struct {
	Subject string
	Value   string
	Roles   []string
}

// BearerAuthMiddleware validates Bearer tokens and stores the caller's identity in the request context.
// If tokens is empty, authentication is disabled: requests pass through with an anonymous identity
// that holds no roles.
func BearerAuthMiddleware(tokens []Token) func(http.Handler) http.Handler {
	valid := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Value != "" {
			valid = append(valid, t)
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled
		if len(valid) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			tok, ok := lookup(valid, header[len(bearerPrefix):])
			if !ok {
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid api token")
				return
			}

			ctx := auth.WithIdentity(r.Context(), auth.Identity{Subject: tok.Subject, Roles: tok.Roles})
			ctx = logpkg.With(ctx, zap.String("subject", tok.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func lookup(tokens []Token, value string) (Token, bool) {
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t.Value), []byte(value)) == 1 {
			return t, true
		}
	}
	return Token{}, false
}
