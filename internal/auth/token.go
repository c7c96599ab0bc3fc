package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"distress.org/internal/obs"
)

const defaultTokenTTL = 8 * time.Hour

// Claims are the JWT claims carried by every access token.
type Claims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenService issues, verifies and revokes bearer tokens. The signing
// secret is symmetric and held process-wide; scheme (HS256) and expiry are
// contract fields, not caller options.
type TokenService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
	revoked *RevocationSet
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
			s.revoked.now = fn
		}
	}
}

// NewTokenService constructs a TokenService with the given signing secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		secret:  []byte(secret),
		issuer:  "distress-api",
		ttl:     defaultTokenTTL,
		now:     time.Now,
		revoked: NewRevocationSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for the user. The session id is a fresh 256-bit random
// value; revocation is keyed on it.
func (s *TokenService) Issue(user User) (string, Identity, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", Identity{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if _, ok := ParseRole(string(user.Role)); !ok {
		return "", Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, user.Role)
	}
	sid, err := newSessionID()
	if err != nil {
		return "", Identity{}, err
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role:      string(user.Role),
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, Identity{
		SubjectID: user.ID,
		Role:      user.Role,
		SessionID: sid,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks signature, expiry and the revocation set, in that order, and
// returns the embedded identity. It is read-only and safe for concurrent use.
func (s *TokenService) Verify(token string) (Identity, error) {
	claims, err := s.parse(token, true)
	if err != nil {
		return Identity{}, err
	}
	if s.revoked.Contains(claims.SessionID) {
		return Identity{}, ErrRevokedToken
	}
	return identityFromClaims(claims)
}

// Revoke adds the token's session to the revocation set. The entry expires
// with the token itself. Revoking a malformed token is an error; revoking an
// already-expired token is a no-op.
func (s *TokenService) Revoke(token string) error {
	claims, err := s.parse(token, false)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil || s.now().After(claims.ExpiresAt.Time) {
		return nil
	}
	s.revoked.Revoke(claims.SessionID, claims.ExpiresAt.Time)
	obs.ObserveTokenRevocation()
	return nil
}

// DecodeExpired parses claims from a well-formed, correctly signed token
// without validating expiry. It exists strictly for the refresh path, to look
// up current identity state; the result must never authorize a protected
// operation.
func (s *TokenService) DecodeExpired(token string) (Identity, error) {
	claims, err := s.parse(token, false)
	if err != nil {
		return Identity{}, err
	}
	return identityFromClaims(claims)
}

func (s *TokenService) parse(token string, validateExpiry bool) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	var parserOpts []jwt.ParserOption
	parserOpts = append(parserOpts, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if !validateExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if !validateExpiry && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func identityFromClaims(claims *Claims) (Identity, error) {
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.SessionID == "" {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{
		SubjectID: claims.Subject,
		Role:      role,
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
