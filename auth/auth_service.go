// Package auth signs the user in and out. A successful login stores the
// session the httpclient refreshes and tells session listeners about it.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-client/envelope"
	"github.com/jrsteele09/go-auth-client/httpclient"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service provides the login and logout flows.
type Service struct {
	api      *httpclient.Client
	verifier IDTokenVerifier  // Optional check of third party ID tokens
	nowTime  func() time.Time // nowTime function (injectable for testing)
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithIDTokenVerifier verifies ID tokens before LoginWithToken sends them.
func WithIDTokenVerifier(verifier IDTokenVerifier) ServiceOption {
	return func(s *Service) {
		s.verifier = verifier
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// NewService uses the store and notifier of api.
func NewService(api *httpclient.Client, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[NewService] api client is required")
	}

	s := &Service{
		api:     api,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login signs in with email and password.
func (s *Service) Login(ctx context.Context, credentials Credentials) (*session.UserProfile, error) {
	if err := validateRequest("Login", credentials); err != nil {
		return nil, err
	}
	return s.signIn(ctx, "Login", httpclient.RouteLogin, credentials)
}

// LoginWithToken exchanges an ID token issued by a third party (e.g. Google)
// for an API session.
func (s *Service) LoginWithToken(ctx context.Context, idToken string) (*session.UserProfile, error) {
	body := tokenLogin{Token: idToken}
	if err := validateRequest("LoginWithToken", body); err != nil {
		return nil, err
	}

	if s.verifier != nil {
		verified, err := s.verifier.Verify(ctx, idToken)
		if err != nil {
			return nil, errors.Wrapf(IDTokenRejectedErr, "[LoginWithToken] %v", err)
		}
		var claims idTokenClaims
		if err := verified.Claims(&claims); err != nil {
			return nil, errors.Wrap(err, "[LoginWithToken] failed to read ID token claims")
		}
		log.Debug().Str("issuer", verified.Issuer).Str("email", claims.Email).Msg("ID token verified")
	}

	return s.signIn(ctx, "LoginWithToken", httpclient.RouteLoginWithToken, body)
}

// Logout clears the session. Listeners receive a logout event with ReasonUser.
func (s *Service) Logout() error {
	if err := s.api.Coordinator().Invalidate(session.ReasonUser); err != nil {
		return errors.Wrap(err, "[Logout] failed to clear session")
	}
	log.Info().Msg("Signed out")
	return nil
}

// CurrentUser returns the signed in user, or session.ErrNoSession.
func (s *Service) CurrentUser() (*session.UserProfile, error) {
	stored, err := s.api.Store().Load()
	if err != nil {
		return nil, err
	}
	return &stored.User, nil
}

func (s *Service) IsAuthenticated() bool {
	return session.AccessToken(s.api.Store()) != ""
}

func (s *Service) signIn(ctx context.Context, method, route string, body any) (*session.UserProfile, error) {
	req, err := httpclient.NewRequest(http.MethodPost, route, body)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] failed to build request", method)
	}

	resp, err := s.api.Do(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] sign in failed", method)
	}
	if resp.Download != nil {
		_ = resp.Download.Close()
		return nil, errors.Wrapf(UnexpectedResponseErr, "[%s] got %s", method, resp.Download.ContentType)
	}

	tokens, err := envelope.Unwrap[*session.TokenResponse](resp.StatusCode, resp.Body, s.api.Messages())
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] sign in failed", method)
	}
	signedIn, err := session.FromTokenResponse(tokens, session.Session{}, s.nowTime())
	if err != nil {
		return nil, errors.Wrapf(UnexpectedResponseErr, "[%s] %v", method, err)
	}

	if err := s.api.Store().Save(signedIn); err != nil {
		return nil, errors.Wrapf(err, "[%s] failed to store session", method)
	}
	s.api.Notifier().Publish(session.LoginEvent(signedIn.User))

	log.Info().Str("user_id", signedIn.User.ID).Str("email", signedIn.User.Email).Msg("Signed in")
	return &signedIn.User, nil
}
