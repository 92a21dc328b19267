package httpclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionExpired wraps every error returned after a failed refresh.
	ErrSessionExpired = apperrors.ErrSessionExpired
	ErrNoRefreshToken = apperrors.ErrNoRefreshToken
	ErrMissingToken   = apperrors.ErrMissingToken
)

// State of the refresh coordinator.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRefreshing:
		return "REFRESHING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*session.TokenResponse, error)
}

type RefresherFunc func(ctx context.Context, refreshToken string) (*session.TokenResponse, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*session.TokenResponse, error) {
	return f(ctx, refreshToken)
}

type outcome struct {
	token string
	err   error
}

// waiter is a request parked behind the refresh in flight. Its channel is
// buffered so settling never blocks on a caller that has gone away.
type waiter struct {
	resume chan outcome
}

// Coordinator makes sure at most one refresh call is in flight. The first
// caller to hit an authorization failure performs the refresh; callers that
// fail while it runs queue up and are resumed, in arrival order, with its
// result.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	waiters   []*waiter
	store     session.Store
	notifier  *session.Notifier
	refresher Refresher
	nowFunc   func() time.Time
	refreshes atomic.Int64
}

type CoordinatorOption func(*Coordinator)

func WithNotifier(n *session.Notifier) CoordinatorOption {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(store session.Store, refresher Refresher, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of requests parked behind the refresh in flight.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Refreshes counts the refresh calls made so far.
func (c *Coordinator) Refreshes() int64 {
	return c.refreshes.Load()
}

// Await returns a token to replay a request that failed authorization while
// carrying staleToken. If the stored token already differs from staleToken a
// refresh has completed in the meantime and the stored token is returned
// without another call.
func (c *Coordinator) Await(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()
	if c.state == StateRefreshing {
		w := &waiter{resume: make(chan outcome, 1)}
		c.waiters = append(c.waiters, w)
		pending := len(c.waiters)
		c.mu.Unlock()

		log.Debug().Int("waiters", pending).Msg("Request queued behind token refresh")
		select {
		case o := <-w.resume:
			return o.token, o.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	current, err := c.store.Load()
	switch {
	case err == nil && current.AccessToken != "" && current.AccessToken != staleToken:
		c.mu.Unlock()
		return current.AccessToken, nil
	case errors.Is(err, session.ErrNoSession) && staleToken != "":
		// The session this request carried was cleared by a failed refresh
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	c.state = StateRefreshing
	c.mu.Unlock()

	// The refresh outlives the caller that triggered it: the queued requests
	// depend on its result.
	result := c.refresh(context.WithoutCancel(ctx), current)
	c.settle(result)
	return result.token, result.err
}

// EnsureFresh returns the stored access token, refreshing it first when it
// expires within skew.
func (c *Coordinator) EnsureFresh(ctx context.Context, skew time.Duration) (string, error) {
	s, err := c.store.Load()
	if err != nil {
		return "", err
	}
	if !s.IsExpired(c.nowFunc(), skew) {
		return s.AccessToken, nil
	}
	return c.Await(ctx, s.AccessToken)
}

// refreshResult is what every caller of one refresh is resumed with. A nil
// event means the store changed under the refresh and nothing is published.
type refreshResult struct {
	token string
	err   error
	event *session.Event
}

// refresh exchanges the refresh token of current and writes the outcome only
// if the store still holds current. A login or logout that lands while the
// call is in flight wins over it.
func (c *Coordinator) refresh(ctx context.Context, current session.Session) refreshResult {
	start := c.nowFunc()

	next, err := c.exchange(ctx, current)
	if err != nil {
		cleared, clearErr := session.CompareAndSwap(c.store, current, nil)
		if clearErr != nil {
			// An unreadable session cannot be compared; drop it
			if clearErr = c.store.Clear(); clearErr != nil {
				log.Err(clearErr).Msg("Failed to clear session after refresh failure")
			}
			cleared = true
		}
		if !cleared {
			log.Debug().Err(err).Msg("Token refresh failed after the session was replaced")
			return c.superseded()
		}
		log.Warn().Err(err).Msg("Token refresh failed, session cleared")
		logout := session.LogoutEvent(session.ReasonSessionExpired)
		return refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err), event: &logout}
	}

	saved, err := session.CompareAndSwap(c.store, current, &next)
	if err != nil {
		return refreshResult{err: fmt.Errorf("failed to store refreshed session: %w", err)}
	}
	if !saved {
		log.Debug().Msg("Refreshed session dropped, the session was replaced meanwhile")
		return c.superseded()
	}

	log.Debug().Dur("took", c.nowFunc().Sub(start)).Str("user_id", next.User.ID).Msg("Token refreshed")
	refreshed := session.RefreshedEvent(next.User)
	return refreshResult{token: next.AccessToken, event: &refreshed}
}

// superseded resumes callers with whatever session replaced the one being
// refreshed.
func (c *Coordinator) superseded() refreshResult {
	s, err := c.store.Load()
	if err != nil {
		return refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	}
	if s.AccessToken == "" {
		return refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, session.ErrNoSession)}
	}
	return refreshResult{token: s.AccessToken}
}

func (c *Coordinator) exchange(ctx context.Context, current session.Session) (session.Session, error) {
	if current.RefreshToken == "" {
		return session.Session{}, ErrNoRefreshToken
	}
	if c.refresher == nil {
		return session.Session{}, apperrors.Wrapf(apperrors.ErrInvalidConfig, "no refresher configured")
	}

	c.refreshes.Add(1)
	resp, err := c.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return session.Session{}, err
	}
	return session.FromTokenResponse(resp, current, c.nowFunc())
}

// settle returns to IDLE and resumes every waiter with the refresh result.
// Listeners are notified last so they may issue requests themselves.
func (c *Coordinator) settle(result refreshResult) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = StateIdle
	c.mu.Unlock()

	for _, w := range waiters {
		w.resume <- outcome{token: result.token, err: result.err}
	}

	if result.event != nil {
		c.notifier.Publish(*result.event)
	}
}

// Invalidate clears the session and tells listeners, as a failed refresh
// would, without calling the API.
func (c *Coordinator) Invalidate(reason session.LogoutReason) error {
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.notifier.Publish(session.LogoutEvent(reason))
	return nil
}
