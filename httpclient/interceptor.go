package httpclient

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/session"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
)

// Interceptor mutates an outgoing request before it is sent. Interceptors
// never fail; they either change the request or leave it alone.
type Interceptor func(httpReq *http.Request, req *Request)

// ChainInterceptors runs interceptors in order.
func ChainInterceptors(interceptors ...Interceptor) Interceptor {
	return func(httpReq *http.Request, req *Request) {
		for _, intercept := range interceptors {
			intercept(httpReq, req)
		}
	}
}

// RequestIDInterceptor tags every attempt with a fresh X-Request-ID.
func RequestIDInterceptor() Interceptor {
	return func(httpReq *http.Request, req *Request) {
		req.id = uuid.NewString()
		httpReq.Header.Set(HeaderRequestID, req.id)
	}
}

// BearerInterceptor attaches the stored access token, except to the
// authentication endpoints.
func BearerInterceptor(store session.Store, authEndpoints []string) Interceptor {
	return func(httpReq *http.Request, req *Request) {
		req.sentToken = ""
		if MatchesEndpoint(httpReq.URL, authEndpoints) {
			httpReq.Header.Del(HeaderAuthorization)
			return
		}

		token := req.bearer
		if token == "" {
			token = session.AccessToken(store)
		}
		if token == "" {
			return
		}
		httpReq.Header.Set(HeaderAuthorization, "Bearer "+token)
		req.sentToken = token
	}
}

// MatchesEndpoint reports whether the request path ends with one of endpoints.
func MatchesEndpoint(u *url.URL, endpoints []string) bool {
	path := strings.TrimRight(u.Path, "/")
	for _, e := range endpoints {
		e = strings.TrimRight(e, "/")
		if e != "" && strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}
