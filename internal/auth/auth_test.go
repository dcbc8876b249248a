package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

const testIssuer = "https://test-issuer.com"

func fakeToken(t *testing.T, extra map[string]interface{}) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss": testIssuer,
		"aud": "api://comfyrun",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-1 * time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	header, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testAuth() *Auth {
	verifier := oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{SkipClientIDCheck: true})
	return &Auth{verifier: verifier, logger: &NoOpLogger{}}
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_BearerToken(t *testing.T) {
	a := testAuth()
	token := fakeToken(t, map[string]interface{}{"email": "user@acme.com", "scp": []string{ScopeRunsRead, ScopeRunsWrite}})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "user-1", p.Subject)
		assert.Equal(t, "user@acme.com", p.Email)
		assert.True(t, p.HasScope(ScopeRunsWrite))
		w.WriteHeader(http.StatusOK)
	})

	rec := serve(a.RequireAuth(a.RequireScope(ScopeRunsWrite)(next)), token)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequireAuth_ScopeString(t *testing.T) {
	a := testAuth()
	token := fakeToken(t, map[string]interface{}{"scope": "openid " + ScopeRunsRead})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := serve(a.RequireAuth(a.RequireScope(ScopeRunsRead)(ok)), token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a.RequireAuth(a.RequireScope(ScopeRunsWrite)(ok)), token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_Rejections(t *testing.T) {
	a := testAuth()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := serve(a.RequireAuth(ok), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	expired := fakeToken(t, map[string]interface{}{"exp": time.Now().Add(-time.Hour).Unix()})
	rec = serve(a.RequireAuth(ok), expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(a.RequireAuth(ok), "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_Disabled(t *testing.T) {
	a, err := New(context.Background(), "", "", &NoOpLogger{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "anonymous", p.Subject)
		w.WriteHeader(http.StatusOK)
	})
	rec := serve(a.RequireAuth(a.RequireScope(ScopeRunsWrite)(next)), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
