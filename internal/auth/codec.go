package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSalt separates session tokens from anything else signed with the
// same secret.
const DefaultSalt = "session-salt"

var (
	// ErrInvalidToken is returned for tokens with a bad signature or payload.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-signed tokens older than the max age.
	ErrTokenExpired = errors.New("token expired")
)

// sessionClaims is the signed payload: the operator name plus issue time.
type sessionClaims struct {
	User string `json:"user"`
	jwt.RegisteredClaims
}

// Codec issues and verifies session tokens. Tokens are HS256 compact JWS
// strings, so they only use the URL-safe base64 alphabet and dots.
type Codec struct {
	key []byte
	now func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*codecOptions)

type codecOptions struct {
	salt string
	now  func() time.Time
}

// WithSalt overrides DefaultSalt.
func WithSalt(salt string) CodecOption {
	return func(o *codecOptions) { o.salt = salt }
}

// WithClock sets the time source used for issue and verification.
func WithClock(now func() time.Time) CodecOption {
	return func(o *codecOptions) { o.now = now }
}

// NewCodec derives the signing key from secret and the salt.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}

	o := codecOptions{salt: DefaultSalt, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(o.salt))

	return &Codec{key: mac.Sum(nil), now: o.now}, nil
}

// Issue returns a signed token binding username to the current time.
func (c *Codec) Issue(username string) (string, error) {
	claims := sessionClaims{
		User: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature of token and returns the embedded username.
// A token older than maxAge yields ErrTokenExpired; maxAge of zero skips the
// age check. Callers should treat both errors as the same rejection.
func (c *Codec) Verify(token string, maxAge time.Duration) (string, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.User == "" || claims.IssuedAt == nil {
		return "", ErrInvalidToken
	}

	if maxAge > 0 {
		// Whole seconds on both sides, matching the precision of iat.
		age := time.Duration(c.now().Unix()-claims.IssuedAt.Unix()) * time.Second
		if age < 0 {
			return "", fmt.Errorf("%w: issued in the future", ErrInvalidToken)
		}
		if age > maxAge {
			return "", fmt.Errorf("%w: age %s exceeds %s", ErrTokenExpired, age, maxAge)
		}
	}

	return claims.User, nil
}
