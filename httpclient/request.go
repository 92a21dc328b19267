package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// Request describes a call so it can be sent again after a token refresh.
// The body is encoded once and kept as bytes.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// retried is set on replays and on the refresh call itself; such requests
	// never start a refresh.
	retried bool
	// bearer forces the token attached on a replay.
	bearer string
	// sentToken is the token the last attempt carried.
	sentToken string
	id        string
}

type RequestOption func(*Request)

func WithQuery(query url.Values) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		for k, v := range query {
			r.Query[k] = append(r.Query[k], v...)
		}
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		r.Header.Set(key, value)
	}
}

// NewRequest encodes body as JSON unless it is nil or already []byte. JSON
// bodies are sent with a JSON Content-Type; raw bytes only get one from a JSON
// mode client.
func NewRequest(method, path string, body any, options ...RequestOption) (*Request, error) {
	if method == "" || path == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "method and path are required")
	}

	r := &Request{
		Method: method,
		Path:   path,
		Header: http.Header{},
	}

	switch b := body.(type) {
	case nil:
	case []byte:
		r.Body = b
	case json.RawMessage:
		r.Body = b
		r.Header.Set("Content-Type", "application/json")
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		r.Body = encoded
		r.Header.Set("Content-Type", "application/json")
	}

	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// IsRetry reports whether this is a replay after a refresh.
func (r *Request) IsRetry() bool {
	return r.retried
}

// SentToken is the bearer token the last attempt carried, "" if none.
func (r *Request) SentToken() string {
	return r.sentToken
}

// ID is the X-Request-ID of the last attempt.
func (r *Request) ID() string {
	return r.id
}

func (r *Request) replay(token string) *Request {
	clone := *r
	clone.Header = r.Header.Clone()
	clone.retried = true
	clone.bearer = token
	clone.sentToken = ""
	return &clone
}
