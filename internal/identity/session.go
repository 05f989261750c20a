package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the JWT claims of a caseledger session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	PartyID string `json:"party_id"`
	Role    Role   `json:"role"`
}

// Principal returns the caller identified by the claims.
func (c *SessionClaims) Principal() Principal {
	return Principal{ID: c.PartyID, Role: c.Role}
}

// SessionIssuer issues and verifies session JWTs signed with a shared secret.
type SessionIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a SessionIssuer.
//
//	secret: HMAC key; must be at least 32 bytes.
//	issuer: The "iss" claim value.
//	ttl:    Token lifetime (default: 24 hours).
func NewSessionIssuer(secret []byte, issuer string, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed session token for p.
func (s *SessionIssuer) Issue(p Principal) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
		PartyID: p.ID,
		Role:    p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (s *SessionIssuer) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token claims")
	}
	if claims.Subject != claims.PartyID {
		return nil, errors.New("session subject does not match party")
	}
	if err := claims.Principal().Validate(); err != nil {
		return nil, fmt.Errorf("invalid session principal: %w", err)
	}
	return claims, nil
}
