package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	assert.Equal(t, "tok-1", Static(" tok-1 ").CurrentToken())
	assert.Equal(t, "", Static("").CurrentToken())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	provider := File{Path: path}

	assert.Equal(t, "", provider.CurrentToken(), "missing file yields no token")

	require.NoError(t, os.WriteFile(path, []byte("Bearer tok-1\n"), 0o600))
	assert.Equal(t, "tok-1", provider.CurrentToken())

	require.NoError(t, os.WriteFile(path, []byte("tok-2"), 0o600))
	assert.Equal(t, "tok-2", provider.CurrentToken(), "file is re-read on every call")
}

func TestMemory(t *testing.T) {
	var m Memory
	assert.Equal(t, "", m.CurrentToken())

	m.Set("tok-1")
	assert.Equal(t, "tok-1", m.CurrentToken())

	m.Clear()
	assert.Equal(t, "", m.CurrentToken())
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, err := issuer.Issue("user-1", "Ada")
	require.NoError(t, err)

	claims, err := issuer.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)
	require.NotNil(t, claims.ExpiresAt)
}

func TestIssuer_Rejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	other := NewIssuer("other", time.Hour)

	token, err := other.Issue("user-1", "")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Issue("", "")
	assert.Error(t, err)

	_, err = NewIssuer("", 0).Issue("user-1", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestIssuer_Expired(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token := signed(t, "secret", time.Now().Add(-time.Minute))

	_, err := issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTProvider(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	valid := signed(t, "secret", now.Add(time.Hour))
	expired := signed(t, "secret", now.Add(-time.Hour))
	soon := signed(t, "secret", now.Add(10*time.Second))

	tests := []struct {
		name   string
		token  string
		leeway time.Duration
		want   string
	}{
		{"valid token", valid, 0, valid},
		{"expired token", expired, 0, ""},
		{"expiring within leeway", soon, time.Minute, ""},
		{"opaque token passes through", "opaque-token", 0, "opaque-token"},
		{"malformed jwt", "a.b.c", 0, ""},
		{"no token", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &JWTProvider{Source: Static(tt.token), Leeway: tt.leeway, now: func() time.Time { return now }}
			assert.Equal(t, tt.want, p.CurrentToken())
		})
	}
}

func TestJWTProvider_NilSource(t *testing.T) {
	var p *JWTProvider
	assert.Equal(t, "", p.CurrentToken())
	assert.Equal(t, "", (&JWTProvider{}).CurrentToken())
}

func TestExpiresAt_NoClaim(t *testing.T) {
	token, err := NewIssuer("secret", 0).Issue("user-1", "")
	require.NoError(t, err)

	expiry, err := ExpiresAt(token)
	require.NoError(t, err)
	assert.True(t, expiry.IsZero())
}

func signed(t *testing.T, secret string, expiry time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(expiry),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}
