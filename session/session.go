// Package session holds the client side authenticated state: the tokens
// issued by the API, the signed in user and the stores that persist them.
package session

import (
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"golang.org/x/oauth2"
)

// ErrNoSession is returned by a Store that holds no session.
var ErrNoSession = apperrors.ErrNoSession

// UserProfile is the signed in user as returned by the authentication endpoints.
type UserProfile struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Role     string `json:"role,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Session is the authenticated state held by the client. The four fields are
// always written and cleared together.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         UserProfile `json:"user"`
}

// ExpiresAtEpochMs returns the access token expiry in Unix milliseconds, or 0
// when the expiry is unknown.
func (s Session) ExpiresAtEpochMs() int64 {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.UnixMilli()
}

// IsExpired reports whether the access token expires within skew of now. A
// session with an unknown expiry never expires client side; the API decides.
func (s Session) IsExpired(now time.Time, skew time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.ExpiresAt.IsZero() && s.User == (UserProfile{})
}

// OAuth2Token exposes the session as an oauth2 token so it can be used with
// oauth2.NewClient and friends.
func (s Session) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}
