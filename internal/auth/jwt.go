package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeyLen is the shortest HS256 signing key the codec accepts
const MinKeyLen = 32

var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("invalid token signature")
	ErrExpired      = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
	ErrKeyTooShort  = fmt.Errorf("signing key must be at least %d bytes", MinKeyLen)
)

// Identity is what a verified token says about its bearer
type Identity struct {
	Subject   string
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier checks a compact token and returns the identity it carries
type Verifier interface {
	Verify(token string) (Identity, error)
}

// TokenCodec issues and verifies HS256 identity tokens with one process-wide key.
// Rotating the key invalidates every outstanding token.
type TokenCodec struct {
	key        []byte
	issuer     string
	defaultTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

type CodecOption func(*TokenCodec)

// WithClock replaces time.Now for issuing and expiry checks
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// WithIssuer sets the iss claim written into issued tokens
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// WithDefaultTTL sets the lifetime used when Issue is called with ttl <= 0
func WithDefaultTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

func NewTokenCodec(key []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(key) < MinKeyLen {
		return nil, ErrKeyTooShort
	}

	c := &TokenCodec{
		key:        append([]byte(nil), key...),
		issuer:     "taskmesh",
		defaultTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// No leeway: a token is expired from the instant now >= exp.
	// Strict decoding makes every change to the signature segment observable.
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// Issue signs a token for subject that expires after ttl
func (c *TokenCodec) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry(now, ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// expiry rounds now+ttl up to a whole second. NumericDate truncates, and a
// truncated exp would hand out less than ttl, or an already expired token
// when ttl is under a second.
func expiry(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if tr := exp.Truncate(time.Second); tr.Before(exp) {
		return tr.Add(time.Second)
	}
	return exp
}

// Verify checks structure, then signature, then expiry.
func (c *TokenCodec) Verify(token string) (Identity, error) {
	if _, _, err := c.parser.ParseUnverified(token, &jwt.RegisteredClaims{}); err != nil {
		// An unknown or missing alg is reported after the segments decoded fine
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Identity{}, ErrBadSignature
		}
		return Identity{}, ErrMalformed
	}

	claims := &jwt.RegisteredClaims{}
	_, err := c.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			// header and claims already decoded, so this is the signature segment
			errors.Is(err, jwt.ErrTokenMalformed):
			return Identity{}, ErrBadSignature
		default:
			return Identity{}, ErrMalformed
		}
	}

	if claims.Subject == "" {
		return Identity{}, ErrMalformed
	}

	id := Identity{
		Subject: claims.Subject,
		TokenID: claims.ID,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
