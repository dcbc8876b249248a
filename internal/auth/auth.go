// Package auth guards the HTTP surfaces with OpenID Connect bearer tokens.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the caller identified by a verified token.
type Principal struct {
	Subject string
	Email   string
	Scopes  []string
}

// HasScope reports whether the token granted scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type principalKey struct{}

// FromContext returns the principal stored by RequireAuth.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Auth verifies bearer access tokens issued by one OIDC provider. A zero
// issuer disables verification and every request runs as an anonymous
// principal holding all scopes.
type Auth struct {
	verifier *oidc.IDTokenVerifier
	logger   Logger
}

// New discovers the provider at issuer. An empty audience skips the
// audience check, since access tokens often carry an API audience rather
// than the client id.
func New(ctx context.Context, issuer, audience string, logger Logger) (*Auth, error) {
	if issuer == "" {
		return &Auth{logger: logger}, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
	})
	return &Auth{verifier: verifier, logger: logger}, nil
}

// Enabled reports whether tokens are checked.
func (a *Auth) Enabled() bool {
	return a.verifier != nil
}

// RequireAuth rejects requests without a valid "Authorization: Bearer"
// token and stores the caller's Principal in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			p := &Principal{Subject: "anonymous", Scopes: AllScopes}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := a.verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("token rejected", "error", err)
			}
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		// Okta puts scopes in "scp" as a list, most others in "scope" as a string
		var claims struct {
			Email string   `json:"email"`
			Scp   []string `json:"scp"`
			Scope string   `json:"scope"`
		}
		if err := token.Claims(&claims); err != nil {
			http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
			return
		}

		p := &Principal{Subject: token.Subject, Email: claims.Email, Scopes: claims.Scp}
		if len(p.Scopes) == 0 {
			p.Scopes = strings.Fields(claims.Scope)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// RequireScope rejects requests whose principal lacks scope. It must run
// after RequireAuth.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok || !p.HasScope(scope) {
				http.Error(w, "missing scope: "+scope, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
