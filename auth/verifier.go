package auth

import (
	"context"
	"crypto"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// IDTokenVerifier checks a third party ID token before it is sent to the
// login-with-token endpoint. *oidc.IDTokenVerifier implements it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

var _ IDTokenVerifier = (*oidc.IDTokenVerifier)(nil)

// NewProviderVerifier discovers the issuer's keys through its OpenID
// configuration document.
func NewProviderVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create OIDC provider")
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// NewStaticVerifier verifies tokens against a fixed set of public keys.
func NewStaticVerifier(issuer, clientID string, keys ...crypto.PublicKey) *oidc.IDTokenVerifier {
	return oidc.NewVerifier(issuer, &oidc.StaticKeySet{PublicKeys: keys}, &oidc.Config{ClientID: clientID})
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}
