// Package apiservice is the typed entry point to the API. Each call goes
// through the authenticated client and returns the unwrapped envelope data.
package apiservice

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-client/envelope"
	"github.com/jrsteele09/go-auth-client/httpclient"
	"github.com/jrsteele09/go-auth-client/internal/config"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/session"
)

// Options configures a Service. The download client is built from API with
// ModeBlob and shares its refresh coordinator.
type Options struct {
	API httpclient.Options

	// DownloadBaseURL defaults to API.BaseURL
	DownloadBaseURL string
	// DownloadTimeout is zero (no timeout) unless set
	DownloadTimeout time.Duration
}

// Service holds the JSON client and the download client.
type Service struct {
	api       *httpclient.Client
	downloads *httpclient.Client
}

func New(options Options) (*Service, error) {
	api, err := httpclient.New(options.API)
	if err != nil {
		return nil, err
	}

	downloadOptions := options.API
	downloadOptions.Mode = httpclient.ModeBlob
	downloadOptions.Timeout = options.DownloadTimeout
	if hc := options.API.HTTPClient; hc != nil {
		// Keep the caller's transport, not its timeout
		downloadClient := *hc
		downloadClient.Timeout = options.DownloadTimeout
		downloadOptions.HTTPClient = &downloadClient
	}
	downloadOptions.Coordinator = api.Coordinator()
	if options.DownloadBaseURL != "" {
		downloadOptions.BaseURL = options.DownloadBaseURL
	}
	downloads, err := httpclient.New(downloadOptions)
	if err != nil {
		return nil, err
	}

	return &Service{api: api, downloads: downloads}, nil
}

// NewFromConfig builds a Service from the environment configuration.
func NewFromConfig(cfg config.Config, store session.Store, notifier *session.Notifier) (*Service, error) {
	return New(Options{
		API: httpclient.Options{
			BaseURL:       cfg.GetAPIBaseURL(),
			Timeout:       cfg.GetRequestTimeout(),
			AuthEndpoints: cfg.GetAuthEndpoints(),
			RefreshPath:   cfg.GetRefreshPath(),
			Store:         store,
			Notifier:      notifier,
		},
		DownloadBaseURL: cfg.GetDownloadBaseURL(),
		DownloadTimeout: cfg.GetDownloadTimeout(),
	})
}

func (s *Service) API() *httpclient.Client {
	return s.api
}

func (s *Service) Downloads() *httpclient.Client {
	return s.downloads
}

func (s *Service) Coordinator() *httpclient.Coordinator {
	return s.api.Coordinator()
}

func (s *Service) Store() session.Store {
	return s.api.Store()
}

func Get[T any](ctx context.Context, svc *Service, path string, options ...httpclient.RequestOption) (T, error) {
	return call[T](ctx, svc.api, http.MethodGet, path, nil, options...)
}

func Post[T any](ctx context.Context, svc *Service, path string, body any, options ...httpclient.RequestOption) (T, error) {
	return call[T](ctx, svc.api, http.MethodPost, path, body, options...)
}

func Put[T any](ctx context.Context, svc *Service, path string, body any, options ...httpclient.RequestOption) (T, error) {
	return call[T](ctx, svc.api, http.MethodPut, path, body, options...)
}

func Patch[T any](ctx context.Context, svc *Service, path string, body any, options ...httpclient.RequestOption) (T, error) {
	return call[T](ctx, svc.api, http.MethodPatch, path, body, options...)
}

func Delete[T any](ctx context.Context, svc *Service, path string, options ...httpclient.RequestOption) (T, error) {
	return call[T](ctx, svc.api, http.MethodDelete, path, nil, options...)
}

// PostDownload posts body to the download API and returns the file unparsed.
func PostDownload(ctx context.Context, svc *Service, path string, body any, options ...httpclient.RequestOption) (*httpclient.Download, error) {
	return call[*httpclient.Download](ctx, svc.downloads, http.MethodPost, path, body, options...)
}

func GetDownload(ctx context.Context, svc *Service, path string, options ...httpclient.RequestOption) (*httpclient.Download, error) {
	return call[*httpclient.Download](ctx, svc.downloads, http.MethodGet, path, nil, options...)
}

// call sends the request and unwraps the envelope. A file response is only
// accepted when T is *httpclient.Download.
func call[T any](ctx context.Context, client *httpclient.Client, method, path string, body any, options ...httpclient.RequestOption) (T, error) {
	var zero T

	req, err := httpclient.NewRequest(method, path, body, options...)
	if err != nil {
		return zero, err
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return zero, err
	}

	if resp.Download != nil {
		if d, ok := any(resp.Download).(T); ok {
			return d, nil
		}
		_ = resp.Download.Close()
		return zero, apperrors.Wrapf(apperrors.ErrUnexpectedBinary, "%s %s returned %q", method, path, resp.Download.ContentType)
	}
	return envelope.Unwrap[T](resp.StatusCode, resp.Body, client.Messages())
}
