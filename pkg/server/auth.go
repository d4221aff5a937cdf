package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/techbridge/techbridge/pkg/log"
)

const authTokenCookie = "auth_token"

type contextKey string

const emailContextKey contextKey = "email"

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// authMiddleware requires a valid ID token on every request that changes
// state. Reads are open. Without configured verifiers nothing is checked.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if r.Method == http.MethodGet || r.Method == http.MethodHead || len(s.oidcVerifiers) == 0 {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "missing credentials", slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		email, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if !s.allowedEmail(email) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("email", email)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the token from the Authorization header, falling back to
// the auth cookie.
func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", errors.New("invalid authorization header")
		}
		return token, nil
	}
	if c, err := r.Cookie(authTokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing authorization header")
}

func (s *Server) allowedEmail(email string) bool {
	if len(s.adminEmails) == 0 {
		return true
	}
	for _, admin := range s.adminEmails {
		if subtle.ConstantTimeCompare([]byte(email), []byte(admin)) == 1 {
			return true
		}
	}
	return false
}

// authenticateToken tries every verifier and returns the email claim of the
// first one accepting the token.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email string `json:"email"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				return claims.Email, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", errs[0]
	}
	return "", errors.New("no valid audiences configured or token invalid")
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		AuthRequired bool              `json:"authRequired"`
		ClientIDs    map[string]string `json:"clientIDs,omitempty"`
	}{
		AuthRequired: len(s.oidcVerifiers) > 0,
		ClientIDs:    s.oidcAudiences,
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}
