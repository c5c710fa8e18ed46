// Package middleware carries the HTTP middleware shared by the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/pkg/logger"
)

// Actor is the authenticated identity attached to a request.
type Actor struct {
	ID   string
	Role user.Role
}

// Claims is the JWT payload the platform issues.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// ActorFrom extracts the authenticated actor from the request context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// WithActor returns a context carrying the actor. Exposed for tests.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Authenticator validates bearer tokens and attaches the actor to the
// request context.
type Authenticator struct {
	secret []byte
	skip   map[string]bool
	log    *logger.Logger
}

// NewAuthenticator creates an authenticator. skipPaths are served without a
// token, for health checks, metrics and gateway webhooks.
func NewAuthenticator(secret string, skipPaths []string, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Authenticator{secret: []byte(secret), skip: skip, log: log}
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Middleware enforces bearer-token authentication.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			a.unauthorized(w, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid || claims.UserID == "" {
			a.unauthorized(w, "invalid token")
			return
		}

		actor := Actor{ID: claims.UserID, Role: user.Role(claims.Role)}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// IssueToken signs a token for the given identity. Used by tests and by
// operator tooling; the production issuer is the external auth service.
func IssueToken(secret, userID string, role user.Role) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID, Role: string(role)})
	return token.SignedString([]byte(secret))
}
