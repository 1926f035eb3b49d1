package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies the bearer JWT on every protected request against
// a shared secret and a configurable signing algorithm (spec.md §4.14:
// "hashing_algorithm, default HS256").
type Authenticator struct {
	Secret           []byte
	HashingAlgorithm string
}

// NewAuthenticator builds an Authenticator. algorithm defaults to HS256
// when empty, matching config.DefaultHashingAlgorithm.
func NewAuthenticator(secret, algorithm string) *Authenticator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Authenticator{Secret: []byte(secret), HashingAlgorithm: algorithm}
}

// Middleware rejects any request without a valid bearer token with 401,
// before the route handler ever runs.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != a.HashingAlgorithm {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{a.HashingAlgorithm}))
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
