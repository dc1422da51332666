// Package auth supplies bearer tokens to the transport and issues or verifies
// the HS256 tokens used by the development broker.
package auth

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Static always returns the same token.
type Static string

func (s Static) CurrentToken() string {
	return strings.TrimSpace(string(s))
}

// File reads the token from a file on every call, so a token rotated by
// another process is picked up on the next reconnect. A missing or empty
// file yields no token.
type File struct {
	Path string
}

func (f File) CurrentToken() string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "Bearer "))
}

// Source is satisfied by every provider in this package and by
// transport.TokenProvider.
type Source interface {
	CurrentToken() string
}

// JWTProvider wraps another source and withholds tokens whose exp claim is
// already in the past. The signature is not checked; the server does that.
// Tokens that are not JWTs are passed through unchanged.
type JWTProvider struct {
	Source Source
	// Leeway treats tokens expiring within this window as expired.
	Leeway time.Duration

	now func() time.Time
}

func (p *JWTProvider) CurrentToken() string {
	if p == nil || p.Source == nil {
		return ""
	}
	token := p.Source.CurrentToken()
	if token == "" {
		return ""
	}
	expiry, err := ExpiresAt(token)
	if err != nil {
		if errors.Is(err, errNotJWT) {
			return token
		}
		return ""
	}
	if expiry.IsZero() {
		return token
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	if !now().Add(p.Leeway).Before(expiry) {
		return ""
	}
	return token
}

var errNotJWT = errors.New("auth: token is not a JWT")

var parser = jwt.NewParser()

// ExpiresAt returns the exp claim of an unverified JWT, or the zero time
// when the token carries none.
func ExpiresAt(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, errNotJWT
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Memory is a mutable provider for applications that receive tokens from a
// login flow at runtime.
type Memory struct {
	mu    sync.RWMutex
	token string
}

func (m *Memory) Set(token string) {
	m.mu.Lock()
	m.token = strings.TrimSpace(token)
	m.mu.Unlock()
}

func (m *Memory) Clear() {
	m.Set("")
}

func (m *Memory) CurrentToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}
