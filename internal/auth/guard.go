package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CookieName is the name of the session cookie set at login.
const CookieName = "session"

// FailureReason says why a request could not be authenticated.
type FailureReason string

const (
	ReasonNoCredential     FailureReason = "no_credential"
	ReasonInvalidOrExpired FailureReason = "invalid_or_expired"
	ReasonWrongUser        FailureReason = "wrong_user"
)

// AuthFailure is the rejection returned by Guard.Authenticate.
type AuthFailure struct {
	Reason FailureReason
	Err    error
}

func (f *AuthFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("authentication failed: %s", f.Reason)
}

func (f *AuthFailure) Unwrap() error {
	return f.Err
}

// AsAuthFailure extracts an *AuthFailure from err.
func AsAuthFailure(err error) (*AuthFailure, bool) {
	var f *AuthFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Identity is an authenticated operator.
type Identity struct {
	Username string
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	Codec *Codec
	// Operator is the only username a token may carry.
	Operator string
	// MaxAge is the token validity window and the cookie Max-Age.
	// Zero disables the expiry check and issues a browser-session cookie.
	MaxAge time.Duration
	// Secure sets the Secure attribute on the cookie.
	Secure bool
}

// Guard authenticates operator requests from the session cookie.
type Guard struct {
	codec    *Codec
	operator string
	maxAge   time.Duration
	secure   bool
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Codec == nil {
		return nil, errors.New("token codec is required")
	}
	if cfg.Operator == "" {
		return nil, errors.New("operator username is required")
	}
	return &Guard{
		codec:    cfg.Codec,
		operator: cfg.Operator,
		maxAge:   cfg.MaxAge,
		secure:   cfg.Secure,
	}, nil
}

// Authenticate returns the operator identity carried by the request's
// session cookie, or an *AuthFailure.
func (g *Guard) Authenticate(r *http.Request) (Identity, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, &AuthFailure{Reason: ReasonNoCredential}
	}

	username, err := g.codec.Verify(cookie.Value, g.maxAge)
	if err != nil {
		return Identity{}, &AuthFailure{Reason: ReasonInvalidOrExpired, Err: err}
	}

	if username != g.operator {
		return Identity{}, &AuthFailure{Reason: ReasonWrongUser}
	}

	return Identity{Username: username}, nil
}

// Login issues a token for username and returns it as a session cookie.
func (g *Guard) Login(username string) (*http.Cookie, error) {
	token, err := g.codec.Issue(username)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.maxAge / time.Second),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// LogoutCookie returns a cookie that deletes the session cookie.
func (g *Guard) LogoutCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
