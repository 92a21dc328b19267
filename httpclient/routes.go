package httpclient

// Authentication endpoints of the API. They never carry a bearer token and a
// 401 from them never starts a refresh.
const (
	RouteLogin          = "/authenticate/login"
	RouteLoginWithToken = "/authenticate/login-with-token"
	RouteRefreshToken   = "/authenticate/refresh-token"
)

// DefaultAuthEndpoints is the default bearer token whitelist.
func DefaultAuthEndpoints() []string {
	return []string{RouteLogin, RouteRefreshToken, RouteLoginWithToken}
}
