// Package auth guards the bot's ops endpoints (metrics, event tap) with
// bearer tokens. Dispatch itself never goes through HTTP auth; this only
// covers the operator surface.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "subject"

// JWTConfig holds the shared HMAC secret for ops tokens.
type JWTConfig struct {
	SecretKey string
}

func NewJWTConfig(secretKey string) *JWTConfig {
	return &JWTConfig{SecretKey: secretKey}
}

// Middleware rejects requests without a valid bearer token. With an empty
// secret the ops surface is open (local development).
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.SecretKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(c.SecretKey), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				r = r.WithContext(context.WithValue(r.Context(), subjectKey, sub))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// GetSubject extracts the token subject from the request context.
func GetSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}
