package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/realtime"
	"github.com/stretchr/testify/require"
)

const (
	testDestination = "/topic/courses"
	testDelay       = 10 * time.Millisecond
)

type fakeBroker struct {
	mu           sync.Mutex
	active       map[string][]*fakeSubscription
	subscribes   int
	disconnected bool
	done         chan struct{}
	dropOnce     sync.Once
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{active: make(map[string][]*fakeSubscription), done: make(chan struct{})}
}

func (b *fakeBroker) Done() <-chan struct{} {
	return b.done
}

// Drop closes the connection without failing any subscription.
func (b *fakeBroker) Drop() {
	b.dropOnce.Do(func() { close(b.done) })
}

func (b *fakeBroker) Subscribe(destination string) (realtime.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSubscription{broker: b, destination: destination, messages: make(chan realtime.Message, 16)}
	b.active[destination] = append(b.active[destination], s)
	b.subscribes++
	return s, nil
}

func (b *fakeBroker) Disconnect() error {
	b.mu.Lock()
	b.disconnected = true
	b.mu.Unlock()
	b.Drop()
	return nil
}

func (b *fakeBroker) Publish(destination, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.active[destination] {
		s.messages <- realtime.Message{Destination: destination, ContentType: "application/json", Body: []byte(body)}
	}
}

// Fail ends every subscription with a connection error.
func (b *fakeBroker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for destination, subs := range b.active {
		for _, s := range subs {
			s.messages <- realtime.Message{Err: err}
			s.closeLocked()
		}
		delete(b.active, destination)
	}
}

func (b *fakeBroker) Active(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active[destination])
}

func (b *fakeBroker) Subscribes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

func (b *fakeBroker) Disconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

type fakeSubscription struct {
	broker      *fakeBroker
	destination string
	messages    chan realtime.Message
	closed      bool
}

func (s *fakeSubscription) Messages() <-chan realtime.Message {
	return s.messages
}

func (s *fakeSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	subs := s.broker.active[s.destination]
	for i, active := range subs {
		if active == s {
			s.broker.active[s.destination] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	s.closeLocked()
	return nil
}

func (s *fakeSubscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
}

// fakeDialer hands out a new broker per successful dial after failing the
// first failures attempts.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	brokers  []*fakeBroker
	gate     chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context) (realtime.Broker, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	b := newFakeBroker()
	d.brokers = append(d.brokers, b)
	return b, nil
}

func (d *fakeDialer) Broker(i int) *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brokers[i]
}

func (d *fakeDialer) Brokers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.brokers)
}

func collect(buffer int) (realtime.Handler, <-chan string) {
	received := make(chan string, buffer)
	return func(msg realtime.Message) { received <- string(msg.Body) }, received
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func requireNothing(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected message %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ReplacesPreviousSubscription(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))
	ctx := context.Background()

	first, firstReceived := collect(4)
	second, secondReceived := collect(4)
	require.NoError(t, m.Subscribe(ctx, testDestination, first))
	require.NoError(t, m.Subscribe(ctx, testDestination, second))

	broker := dialer.Broker(0)
	require.Equal(t, 1, broker.Active(testDestination))
	require.Equal(t, 2, broker.Subscribes())

	broker.Publish(testDestination, `{"id":"c-1"}`)
	require.Equal(t, `{"id":"c-1"}`, receive(t, secondReceived))
	requireNothing(t, firstReceived)
	require.Equal(t, []string{testDestination}, m.Destinations())
	require.Equal(t, 1, m.Dials())
}

func TestConnect_RetriesWithFixedDelay(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))

	start := time.Now()
	m.Connect(context.Background())
	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("never connected")
	}

	require.True(t, m.Connected())
	require.Equal(t, 3, m.Dials())
	require.GreaterOrEqual(t, time.Since(start), 2*testDelay)
}

func TestConnect_SingleDialLoop(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := realtime.NewManager(dialer.Dial)

	for i := 0; i < 5; i++ {
		m.Connect(context.Background())
	}
	close(dialer.gate)
	<-m.Ready()
	m.Connect(context.Background())

	require.Equal(t, 1, m.Dials())
	require.Equal(t, 1, dialer.Brokers())
}

func TestConnect_StopsWhenContextDone(t *testing.T) {
	dialer := &fakeDialer{failures: 1000}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))

	ctx, cancel := context.WithCancel(context.Background())
	m.Connect(ctx)
	require.Eventually(t, func() bool { return m.Dials() >= 2 }, time.Second, time.Millisecond)
	cancel()

	time.Sleep(5 * testDelay)
	dials := m.Dials()
	time.Sleep(5 * testDelay)
	require.Equal(t, dials, m.Dials())
	require.False(t, m.Connected())
}

func TestSubscribe_ContextCancelledWhileConnecting(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m := realtime.NewManager(dialer.Dial)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	handler, _ := collect(1)
	require.ErrorIs(t, m.Subscribe(ctx, testDestination, handler), context.DeadlineExceeded)
	require.Empty(t, m.Destinations())
	require.NoError(t, m.Disconnect())
}

func TestSubscribe_InvalidArguments(t *testing.T) {
	m := realtime.NewManager((&fakeDialer{}).Dial)
	handler, _ := collect(1)

	require.ErrorIs(t, m.Subscribe(context.Background(), "", handler), apperrors.ErrInvalidRequest)
	require.ErrorIs(t, m.Subscribe(context.Background(), testDestination, nil), apperrors.ErrInvalidRequest)
	require.Zero(t, m.Dials())
}

func TestUnsubscribe(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial)
	handler, received := collect(4)

	m.Unsubscribe(testDestination)

	require.NoError(t, m.Subscribe(context.Background(), testDestination, handler))
	m.Unsubscribe(testDestination)
	m.Unsubscribe(testDestination)

	broker := dialer.Broker(0)
	require.Zero(t, broker.Active(testDestination))
	broker.Publish(testDestination, `{}`)
	requireNothing(t, received)
	require.True(t, m.Connected())
}

func TestDisconnect_NextSubscribeReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial)
	ctx := context.Background()
	handler, received := collect(4)

	require.NoError(t, m.Subscribe(ctx, testDestination, handler))
	require.NoError(t, m.Disconnect())

	first := dialer.Broker(0)
	require.True(t, first.Disconnected())
	require.Zero(t, first.Active(testDestination))
	require.False(t, m.Connected())
	require.Empty(t, m.Destinations())

	select {
	case <-m.Ready():
		t.Fatal("promise not reset")
	default:
	}

	require.NoError(t, m.Subscribe(ctx, testDestination, handler))
	require.Equal(t, 2, dialer.Brokers())
	dialer.Broker(1).Publish(testDestination, `{"n":1}`)
	require.Equal(t, `{"n":1}`, receive(t, received))
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial)
	handler, received := collect(4)
	require.NoError(t, m.Subscribe(context.Background(), testDestination, handler))

	broker := dialer.Broker(0)
	broker.Publish(testDestination, `not json`)
	broker.Publish(testDestination, `{"ok":true}`)

	require.Equal(t, `{"ok":true}`, receive(t, received))
	requireNothing(t, received)
}

func TestJSONHandler(t *testing.T) {
	type courseUpdated struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial)
	updates := make(chan courseUpdated, 4)
	require.NoError(t, m.Subscribe(context.Background(), testDestination, realtime.JSON(func(u courseUpdated) {
		updates <- u
	})))

	broker := dialer.Broker(0)
	broker.Publish(testDestination, `["not","an","object"]`)
	broker.Publish(testDestination, `{"id":"c-1","title":"Go Concurrency"}`)

	select {
	case u := <-updates:
		require.Equal(t, courseUpdated{ID: "c-1", Title: "Go Concurrency"}, u)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	require.Empty(t, updates)
}

func TestConnectionLost_Resubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))
	handler, received := collect(4)
	require.NoError(t, m.Subscribe(context.Background(), testDestination, handler))

	dialer.Broker(0).Fail(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return dialer.Brokers() == 2 && dialer.Broker(1).Active(testDestination) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, dialer.Broker(0).Disconnected, time.Second, time.Millisecond)

	dialer.Broker(1).Publish(testDestination, `{"after":"reconnect"}`)
	require.Equal(t, `{"after":"reconnect"}`, receive(t, received))
	require.Equal(t, []string{testDestination}, m.Destinations())
}

// A dropped connection is noticed with nothing subscribed and is not redialed
// until someone subscribes again.
func TestConnectionLost_NoSubscriptions(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))
	m.Connect(context.Background())
	<-m.Ready()
	require.True(t, m.Connected())

	dialer.Broker(0).Drop()
	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, time.Millisecond)
	time.Sleep(5 * testDelay)
	require.Equal(t, 1, m.Dials())

	handler, received := collect(4)
	require.NoError(t, m.Subscribe(context.Background(), testDestination, handler))
	require.Equal(t, 2, m.Dials())
	dialer.Broker(1).Publish(testDestination, `{"n":2}`)
	require.Equal(t, `{"n":2}`, receive(t, received))
}

// With handlers registered a dropped connection is redialed and they are
// subscribed again.
func TestConnectionLost_DroppedResubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	m := realtime.NewManager(dialer.Dial, realtime.WithReconnectDelay(testDelay))
	handler, received := collect(4)
	require.NoError(t, m.Subscribe(context.Background(), testDestination, handler))

	dialer.Broker(0).Drop()
	require.Eventually(t, func() bool {
		return dialer.Brokers() == 2 && dialer.Broker(1).Active(testDestination) == 1
	}, time.Second, time.Millisecond)

	dialer.Broker(1).Publish(testDestination, `{"n":3}`)
	require.Equal(t, `{"n":3}`, receive(t, received))
}
