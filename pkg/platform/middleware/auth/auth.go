// Package auth validates bearer tokens and places the caller identity in the
// request context. The service trusts the identity collaborator that issued
// the token; no user management happens here.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/httputil"
	"fiscus/pkg/requestcontext"
)

// Claims are the token claims the service reads: the subject is the actor ID
// and role is one of the recognized roles.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 bearer tokens.
type Validator struct {
	signingKey []byte
}

// NewValidator creates a token validator with the shared signing key.
func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// Validate parses and verifies the token, returning the actor and role.
func (v *Validator) Validate(tokenString string) (domain.ActorID, domain.Role, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return domain.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	actor, err := domain.ParseActorID(claims.Subject)
	if err != nil {
		return domain.ActorID{}, "", dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid actor id")
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.ActorID{}, "", dErrors.Newf(dErrors.CodeUnauthorized, "unknown role %q", claims.Role)
	}
	return actor, role, nil
}

// RequireAuth rejects requests without a valid bearer token and injects the
// caller identity into the context for the handlers downstream.
func RequireAuth(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			actor, role, err := validator.Validate(token)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "unauthorized request",
						"path", r.URL.Path,
						"request_id", requestcontext.RequestID(r.Context()),
						"error", err,
					)
				}
				httputil.WriteError(w, err)
				return
			}

			ctx := requestcontext.WithActor(r.Context(), actor, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
