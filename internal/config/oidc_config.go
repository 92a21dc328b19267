package config

// OIDCConfig enables verification of third party ID tokens before they are
// exchanged at the login-with-token endpoint.
type OIDCConfig interface {
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

type OIDC struct{}

var _ OIDCConfig = OIDC{}

// GetOIDCIssuer is empty when ID tokens are passed through unverified.
func (OIDC) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OIDC) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}
