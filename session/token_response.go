package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
)

// TokenResponse is the data part of the envelope returned by the login,
// login-with-token and refresh-token endpoints.
type TokenResponse struct {
	// Token is the access token (JWT) sent as "Authorization: Bearer <token>".
	Token *string `json:"token,omitempty"`

	// RefreshToken is exchanged at the refresh endpoint for a new pair. It
	// rotates on each use.
	RefreshToken *string `json:"refreshToken,omitempty"`

	User *UserProfile `json:"user,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. When absent the
	// expiry is read from the token's exp claim.
	ExpiresIn int64 `json:"expiresIn,omitempty"`

	TokenType string `json:"tokenType,omitempty"`
}

// FromTokenResponse builds the session described by a token response. The
// user of the previous session is kept when the response carries none, which
// is how the refresh endpoint of older API versions behaves.
func FromTokenResponse(resp *TokenResponse, previous Session, now time.Time) (Session, error) {
	if resp == nil || utils.Value(resp.Token) == "" {
		return Session{}, apperrors.ErrMissingToken
	}

	s := Session{
		AccessToken:  *resp.Token,
		RefreshToken: utils.Coalesce(utils.Value(resp.RefreshToken), previous.RefreshToken),
		User:         previous.User,
	}
	if resp.User != nil {
		s.User = *resp.User
	}

	switch {
	case resp.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = TokenExpiry(s.AccessToken)
	}
	return s, nil
}

// TokenExpiry returns the exp claim of a JWT without verifying its signature,
// or the zero time when the token is opaque or has no exp claim.
func TokenExpiry(rawToken string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
