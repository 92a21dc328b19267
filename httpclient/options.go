package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-auth-client/envelope"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/session"
)

// DefaultTimeout applies to JSON clients that do not configure one.
const DefaultTimeout = 10 * time.Second

// Mode selects how successful responses are handled.
type Mode int

const (
	// ModeJSON unwraps envelopes, except for responses that carry a file.
	ModeJSON Mode = iota
	// ModeBlob returns every successful response as a Download.
	ModeBlob
)

func (m Mode) String() string {
	switch m {
	case ModeJSON:
		return "json"
	case ModeBlob:
		return "blob"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// QuerySerializer renders query parameters.
type QuerySerializer func(url.Values) string

// DefaultQuery repeats keys for multiple values: ids=1&ids=2.
func DefaultQuery(v url.Values) string {
	return v.Encode()
}

// BracketQuery marks keys with multiple values with brackets: ids[]=1&ids[]=2.
func BracketQuery(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		name := url.QueryEscape(k)
		if len(v[k]) > 1 {
			name += url.QueryEscape("[]")
		}
		for _, value := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

// Options configures a Client. The main API and the download API are two
// clients built from the same Options with a different Mode, sharing one
// Coordinator.
type Options struct {
	BaseURL         string        `validate:"required,url"`
	Mode            Mode          `validate:"oneof=0 1"`
	Timeout         time.Duration `validate:"gte=0"`
	DefaultHeaders  http.Header
	QuerySerializer QuerySerializer `validate:"-"`
	AuthEndpoints   []string        `validate:"dive,startswith=/"`
	RefreshPath     string          `validate:"omitempty,startswith=/"`
	Store           session.Store   `validate:"required"`

	Notifier     *session.Notifier  `validate:"-"`
	Messages     *envelope.Messages `validate:"-"`
	HTTPClient   *http.Client       `validate:"-"`
	Coordinator  *Coordinator       `validate:"-"`
	Interceptors []Interceptor      `validate:"-"`
}

var optionsValidator = validator.New()

func (o *Options) validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "[httpclient] %v", err)
	}
	return nil
}

func (o *Options) applyDefaults() {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.QuerySerializer == nil {
		o.QuerySerializer = DefaultQuery
	}
	if o.AuthEndpoints == nil {
		o.AuthEndpoints = DefaultAuthEndpoints()
	}
	if o.RefreshPath == "" {
		o.RefreshPath = RouteRefreshToken
	}
	if o.Messages == nil {
		msgs := envelope.DefaultMessages()
		o.Messages = &msgs
	}
	if o.Timeout == 0 && o.Mode == ModeJSON {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
}
