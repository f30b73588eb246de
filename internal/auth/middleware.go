package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/response"
)

// Cookie names shared by the gate and the handlers that set them.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so nothing else can read
// or shadow the identity stored under it.
type contextKey string

const identityKey contextKey = "identity"

// Identity is what the gate learns from a verified access token. It is
// decoded from the token alone; the gate does not hit the store.
type Identity struct {
	UserID   string
	Email    string
	Username string
	FullName string
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It takes the access token from the "accessToken" cookie or, failing that,
// from an "Authorization: Bearer <token>" header, verifies it, and stores the
// Identity in the request context. A missing or invalid token stops the chain
// with a 401 envelope.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractIdentity(r, tokens)
			if err != nil {
				slog.Debug("auth gate rejected request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				response.Error(w, nil, apperror.Unauthorized(gateMessage(err)))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present but never
// rejects the request. Handlers treat a missing identity as an anonymous
// viewer.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := extractIdentity(r, tokens); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a copy of ctx carrying id. Exposed for handler tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller's identity, if the gate set one.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}

var errNoToken = errors.New("no access token")

// extractIdentity reads the token from the cookie first and the
// Authorization header second.
func extractIdentity(r *http.Request, tokens *TokenService) (Identity, error) {
	raw := ""
	if c, err := r.Cookie(AccessCookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if raw == "" {
		return Identity{}, errNoToken
	}

	c, err := tokens.ParseAccessToken(raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:   c.UserID,
		Email:    c.Email,
		Username: c.Username,
		FullName: c.FullName,
	}, nil
}

func gateMessage(err error) string {
	switch {
	case errors.Is(err, errNoToken):
		return "Unauthorized request"
	case errors.Is(err, ErrTokenExpired):
		return "Access token expired"
	default:
		return "Invalid access token"
	}
}
