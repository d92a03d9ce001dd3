package api

import (
	"context"
	"net/http"
	"strings"
	"github.com/golang-jwt/jwt/v5"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const APIKeyHeader = "X-API-Key"

type ctxKey int

const claimsKey ctxKey = iota

// authenticate accepts either a static API key matching one of the configured
// bcrypt hashes or an HMAC-signed bearer token issued by easmscan.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
			if len(s.config.APIKeyHashes) == 0 || !utils.CheckAPIKey(key, s.config.APIKeyHashes) {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid api key")
				return
			}
			claims := &jwt.RegisteredClaims{Subject: "api-key:" + utils.MaskSensitiveData(key)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		if s.config.JWTSecret == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "bearer tokens are not accepted")
			return
		}

		claims, err := utils.ValidateJWT(strings.TrimSpace(token), s.config.JWTSecret)
		if err != nil {
			s.logger.Debugf("Rejected bearer token: %v", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// ClaimsFrom returns the validated token claims of an authenticated request.
// API-key requests carry synthetic claims with only the subject set.
func ClaimsFrom(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwt.RegisteredClaims)
	return c, ok
}
