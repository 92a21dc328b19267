// Package httpclient sends requests to the API with the stored bearer token
// and recovers from expired tokens with a single-flight refresh followed by a
// replay of every request that failed authorization.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/envelope"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog/log"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 1 << 20

// Response is a completed call. Exactly one of Body and Download is set.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Download   *Download
}

type Client struct {
	options     Options
	httpClient  *http.Client
	intercept   Interceptor
	coordinator *Coordinator
}

var _ Refresher = (*Client)(nil)

func New(options Options) (*Client, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	options.applyDefaults()

	c := &Client{
		options:    options,
		httpClient: options.HTTPClient,
	}

	interceptors := []Interceptor{
		RequestIDInterceptor(),
		BearerInterceptor(options.Store, options.AuthEndpoints),
	}
	c.intercept = ChainInterceptors(append(interceptors, options.Interceptors...)...)

	c.coordinator = options.Coordinator
	if c.coordinator == nil {
		c.coordinator = NewCoordinator(options.Store, c, WithNotifier(options.Notifier))
	}
	return c, nil
}

func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

func (c *Client) Mode() Mode {
	return c.options.Mode
}

func (c *Client) Messages() envelope.Messages {
	return *c.options.Messages
}

func (c *Client) Store() session.Store {
	return c.options.Store
}

// Notifier may be nil.
func (c *Client) Notifier() *session.Notifier {
	return c.options.Notifier
}

// Send issues one network call. It does not look at the response.
func (c *Client) Send(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	logger := log.Debug().
		Str("request_id", req.id).
		Str("method", req.Method).
		Str("path", httpReq.URL.Path).
		Bool("retry", req.retried).
		Dur("took", time.Since(start))
	if err != nil {
		logger.Err(err).Msg("Request failed")
		return nil, err
	}
	logger.Int("status", resp.StatusCode).Msg("Request completed")
	return resp, nil
}

// Do runs the full request lifecycle: send, refresh and replay on an
// authorization failure, then classify the response. Errors are always
// *envelope.APIError, except for context errors of the caller.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if envelope.IsAuthorizationStatus(resp.StatusCode) && c.canRefresh(req) {
		authErr := c.errorFromResponse(resp)

		token, err := c.coordinator.Await(ctx, req.sentToken)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, err
			}
			authErr.Err = err
			return nil, authErr
		}

		resp, err = c.Send(ctx, req.replay(token))
		if err != nil {
			return nil, c.transportError(ctx, err)
		}
	}

	return c.classify(resp)
}

// Refresh calls the refresh endpoint. It implements Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.TokenResponse, error) {
	req, err := NewRequest(http.MethodPost, c.options.RefreshPath, map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	req.retried = true

	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, envelope.TransportError(err, *c.options.Messages)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, envelope.TransportError(err, *c.options.Messages)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, envelope.Normalize(resp.StatusCode, body, *c.options.Messages)
	}

	tokens, err := envelope.Unwrap[*session.TokenResponse](resp.StatusCode, body, *c.options.Messages)
	if err != nil {
		return nil, err
	}
	if tokens == nil || tokens.Token == nil || *tokens.Token == "" {
		return nil, ErrMissingToken
	}
	return tokens, nil
}

func (c *Client) canRefresh(req *Request) bool {
	if req.retried {
		return false
	}
	path := req.Path
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	u, err := c.resolve(path)
	if err != nil {
		return false
	}
	return !MatchesEndpoint(u, append([]string{c.options.RefreshPath}, c.options.AuthEndpoints...))
}

func (c *Client) classify(resp *http.Response) (*Response, error) {
	if !isSuccess(resp.StatusCode) {
		return nil, c.errorFromResponse(resp)
	}

	if c.options.Mode == ModeBlob || envelope.IsBinary(resp.Header) {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Download:   newDownload(resp),
		}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, envelope.TransportError(err, *c.options.Messages)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// errorFromResponse consumes and closes the body.
func (c *Client) errorFromResponse(resp *http.Response) *envelope.APIError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return envelope.Normalize(resp.StatusCode, body, *c.options.Messages)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return envelope.TransportError(err, *c.options.Messages)
}

func (c *Client) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		query := c.options.QuerySerializer(req.Query)
		if u.RawQuery != "" {
			u.RawQuery += "&" + query
		} else {
			u.RawQuery = query
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", req.Method, req.Path, err)
	}

	for k, v := range c.options.DefaultHeaders {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	switch c.options.Mode {
	case ModeBlob:
		httpReq.Header.Set("Accept", "*/*")
	default:
		httpReq.Header.Set("Accept", "application/json")
		if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}

	c.intercept(httpReq, req)
	return httpReq, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// resolve joins path to the base URL. Absolute URLs are used as they are.
func (c *Client) resolve(path string) (*url.URL, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return url.Parse(path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(c.options.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	return u, nil
}
