package httpclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/httpclient"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

var coordinatorNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// blockingRefresher holds every refresh until release is closed.
type blockingRefresher struct {
	mu      sync.Mutex
	calls   []string
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRefresher() *blockingRefresher {
	return &blockingRefresher{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingRefresher) Refresh(_ context.Context, refreshToken string) (*session.TokenResponse, error) {
	b.mu.Lock()
	b.calls = append(b.calls, refreshToken)
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	if b.err != nil {
		return nil, b.err
	}
	return &session.TokenResponse{
		Token:        utils.Ptr("access-2"),
		RefreshToken: utils.Ptr("refresh-2"),
		User:         &session.UserProfile{ID: "user-1"},
		ExpiresIn:    60,
	}, nil
}

func (b *blockingRefresher) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func seededStore(t *testing.T) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore()
	require.NoError(t, store.Save(session.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    coordinatorNow.Add(time.Minute),
		User:         session.UserProfile{ID: "user-1"},
	}))
	return store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestCoordinator_QueuesWaitersBehindOneRefresh(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNowFunc(func() time.Time { return coordinatorNow }))

	type result struct {
		token string
		err   error
	}
	results := make(chan result, 5)
	await := func() {
		token, err := c.Await(context.Background(), "access-1")
		results <- result{token, err}
	}

	go await()
	<-refresher.started
	require.Equal(t, httpclient.StateRefreshing, c.State())

	for i := 1; i <= 4; i++ {
		go await()
		waitFor(t, func() bool { return c.Waiting() == i })
	}

	close(refresher.release)
	for i := 0; i < 5; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, "access-2", r.token)
	}

	require.Equal(t, []string{"refresh-1"}, refresher.Calls())
	require.Equal(t, httpclient.StateIdle, c.State())
	require.Zero(t, c.Waiting())

	s, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "refresh-2", s.RefreshToken)
	require.Equal(t, coordinatorNow.Add(time.Minute), s.ExpiresAt)
}

func TestCoordinator_FailureClearsSessionAndNotifies(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	refresher.err = errors.New("refresh rejected")
	notifier := session.NewNotifier()

	var events []session.Event
	notifier.OnSessionChanged(func(e session.Event) { events = append(events, e) })

	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNotifier(notifier))

	errs := make(chan error, 2)
	go func() {
		_, err := c.Await(context.Background(), "access-1")
		errs <- err
	}()
	<-refresher.started
	go func() {
		_, err := c.Await(context.Background(), "access-1")
		errs <- err
	}()
	waitFor(t, func() bool { return c.Waiting() == 1 })
	close(refresher.release)

	for i := 0; i < 2; i++ {
		err := <-errs
		require.ErrorIs(t, err, httpclient.ErrSessionExpired)
		require.ErrorContains(t, err, "refresh rejected")
	}

	_, err := store.Load()
	require.ErrorIs(t, err, session.ErrNoSession)
	require.Len(t, events, 1)
	require.Equal(t, session.EventLogout, events[0].Type)
	require.Equal(t, session.ReasonSessionExpired, events[0].Reason)

	// A request that carried the cleared session does not refresh again
	_, err = c.Await(context.Background(), "access-1")
	require.ErrorIs(t, err, httpclient.ErrSessionExpired)
	require.Len(t, refresher.Calls(), 1)
	require.Len(t, events, 1)
}

// eventLog records notifier events from any goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func recordEvents(n *session.Notifier) *eventLog {
	l := &eventLog{}
	n.OnSessionChanged(func(e session.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) Events() []session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.Event(nil), l.events...)
}

// A logout that lands while a refresh is in flight must not be undone by the
// refresh result.
func TestCoordinator_LogoutDuringRefresh(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	notifier := session.NewNotifier()
	recorded := recordEvents(notifier)
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNotifier(notifier))

	errs := make(chan error, 2)
	go func() {
		_, err := c.Await(context.Background(), "access-1")
		errs <- err
	}()
	<-refresher.started
	go func() {
		_, err := c.Await(context.Background(), "access-1")
		errs <- err
	}()
	waitFor(t, func() bool { return c.Waiting() == 1 })

	require.NoError(t, c.Invalidate(session.ReasonUser))
	close(refresher.release)

	for i := 0; i < 2; i++ {
		err := <-errs
		require.ErrorIs(t, err, httpclient.ErrSessionExpired)
		require.ErrorIs(t, err, session.ErrNoSession)
	}

	_, err := store.Load()
	require.ErrorIs(t, err, session.ErrNoSession, "refreshed session must not be written back")
	require.EqualValues(t, 1, c.Refreshes())
	require.Equal(t, []session.Event{session.LogoutEvent(session.ReasonUser)}, recorded.Events())
	require.Equal(t, httpclient.StateIdle, c.State())
}

// A login that lands while a refresh is failing keeps the new session and
// resumes the queued requests with it.
func TestCoordinator_LoginDuringFailingRefresh(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	refresher.err = errors.New("refresh rejected")
	notifier := session.NewNotifier()
	recorded := recordEvents(notifier)
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNotifier(notifier))

	tokens := make(chan string, 2)
	errs := make(chan error, 2)
	await := func() {
		token, err := c.Await(context.Background(), "access-1")
		tokens <- token
		errs <- err
	}
	go await()
	<-refresher.started
	go await()
	waitFor(t, func() bool { return c.Waiting() == 1 })

	require.NoError(t, store.Save(session.Session{
		AccessToken:  "access-9",
		RefreshToken: "refresh-9",
		ExpiresAt:    coordinatorNow.Add(time.Hour),
		User:         session.UserProfile{ID: "user-9"},
	}))
	close(refresher.release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		require.Equal(t, "access-9", <-tokens)
	}

	s, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "refresh-9", s.RefreshToken)
	require.Empty(t, recorded.Events(), "no logout for a session that was replaced")
}

// A refresh that succeeds after another login must not overwrite it.
func TestCoordinator_LoginDuringRefresh(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	notifier := session.NewNotifier()
	recorded := recordEvents(notifier)
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNotifier(notifier))

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := c.Await(context.Background(), "access-1")
		done <- result{token, err}
	}()
	<-refresher.started

	require.NoError(t, store.Save(session.Session{AccessToken: "access-9", RefreshToken: "refresh-9"}))
	close(refresher.release)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, "access-9", r.token)
	require.Equal(t, "access-9", session.AccessToken(store))
	require.Empty(t, recorded.Events())
}

func TestCoordinator_CancelledWaiter(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	c := httpclient.NewCoordinator(store, refresher)

	leader := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), "access-1")
		leader <- err
	}()
	<-refresher.started

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, "access-1")
		waiter <- err
	}()
	waitFor(t, func() bool { return c.Waiting() == 1 })

	cancel()
	require.ErrorIs(t, <-waiter, context.Canceled)

	close(refresher.release)
	require.NoError(t, <-leader)
	require.Equal(t, httpclient.StateIdle, c.State())
}

func TestCoordinator_StaleTokenReplaysWithoutRefresh(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	c := httpclient.NewCoordinator(store, refresher)

	token, err := c.Await(context.Background(), "access-0")
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
	require.Empty(t, refresher.Calls())
	require.Zero(t, c.Refreshes())
}

func TestCoordinator_EnsureFresh(t *testing.T) {
	now := coordinatorNow
	store := seededStore(t)
	refresher := newBlockingRefresher()
	close(refresher.release)
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNowFunc(func() time.Time { return now }))

	token, err := c.EnsureFresh(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
	require.Empty(t, refresher.Calls())

	token, err = c.EnsureFresh(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)
	require.EqualValues(t, 1, c.Refreshes())
}

func TestCoordinator_TokenSource(t *testing.T) {
	store := seededStore(t)
	refresher := newBlockingRefresher()
	close(refresher.release)
	c := httpclient.NewCoordinator(store, refresher, httpclient.WithNowFunc(func() time.Time { return coordinatorNow }))

	ts := c.TokenSource(context.Background(), 5*time.Minute)
	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "access-2", tok.AccessToken)
	require.Equal(t, "refresh-2", tok.RefreshToken)

	require.NoError(t, store.Clear())
	_, err = ts.Token()
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestCoordinator_Invalidate(t *testing.T) {
	store := seededStore(t)
	notifier := session.NewNotifier()
	var got session.Event
	notifier.OnSessionChanged(func(e session.Event) { got = e })

	c := httpclient.NewCoordinator(store, nil, httpclient.WithNotifier(notifier))
	require.NoError(t, c.Invalidate(session.ReasonUser))

	_, err := store.Load()
	require.ErrorIs(t, err, session.ErrNoSession)
	require.Equal(t, session.LogoutEvent(session.ReasonUser), got)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "IDLE", httpclient.StateIdle.String())
	require.Equal(t, "REFRESHING", httpclient.StateRefreshing.String())
}
