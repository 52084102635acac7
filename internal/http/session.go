package http

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

const sessionIssuer = "note-wallet"

var ErrUnauthorized = errors.New("unauthorized")

// Sessions issues HS256 tokens after a successful unlock, the secret lives only in memory
// so tokens die with the process and with Revoke
type Sessions struct {
	mu     sync.RWMutex
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewSessions(ttl time.Duration, clk clock.Clock) (*Sessions, error) {
	s := &Sessions{ttl: ttl, clock: clk}
	if err := s.Revoke(); err != nil {
		return nil, err
	}
	return s, nil
}

// Revoke invalidates every issued token
func (s *Sessions) Revoke() error {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return err
	}
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	return nil
}

func (s *Sessions) Issue() (*SessionPayload, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	s.mu.RLock()
	signed, err := token.SignedString(s.secret)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &SessionPayload{Token: signed, ExpiresAt: expires.Unix()}, nil
}

func (s *Sessions) Verify(raw string) error {
	if raw == "" {
		return ErrUnauthorized
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.clock.Now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header
func bearerToken(header string) string {
	prefix := SESSION_TOKEN_TYPE + " "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
