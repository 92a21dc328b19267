package httpclient

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx         context.Context
	coordinator *Coordinator
	skew        time.Duration
}

// TokenSource exposes the session as an oauth2.TokenSource. Tokens close to
// expiry are refreshed through the coordinator, so code using oauth2.NewClient
// shares the single in-flight refresh with the API client.
func (c *Coordinator) TokenSource(ctx context.Context, skew time.Duration) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, coordinator: c, skew: skew}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if _, err := ts.coordinator.EnsureFresh(ts.ctx, ts.skew); err != nil {
		return nil, err
	}
	s, err := ts.coordinator.store.Load()
	if err != nil {
		return nil, err
	}
	return s.OAuth2Token(), nil
}
