// ABOUTME: Unit tests for tokens, passwords, context helpers and the HTTP middleware
// ABOUTME: Covers valid, invalid, expired and missing-claim tokens

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-0123456789")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate("user-123", time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	v := newVerifier(t)
	other, err := NewJWTVerifier([]byte("another-secret-key-that-is-long-enough"))
	require.NoError(t, err)
	foreign, err := other.Generate("user-123", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("user-123", time.Hour)
	require.NoError(t, err)

	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_MissingClaims(t *testing.T) {
	v := newVerifier(t)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := noSub.SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-123"})
	signed, err = noExp.SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Generate("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrBadCredentials)
	assert.ErrorIs(t, CheckPassword("", "correct horse"), ErrBadCredentials)

	_, err = HashPassword("short")
	assert.Error(t, err)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Empty(t, UserID(ctx))

	ctx = WithAuth(ctx, &AuthContext{UserID: "alice"})
	require.NotNil(t, FromContext(ctx))
	assert.Equal(t, "alice", UserID(ctx))
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := newVerifier(t)
	good, err := v.Generate("alice", time.Hour)
	require.NoError(t, err)

	var seen string
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   string
	}{
		{"valid bearer", "Bearer " + good, "", http.StatusNoContent, "alice"},
		{"query token", "", "?access_token=" + good, http.StatusNoContent, "alice"},
		{"missing header", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", "", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/live"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error"`)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}
