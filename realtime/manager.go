// Package realtime keeps the subscriptions of the application to broker
// destinations. A Manager owns one broker connection, dials it on demand and
// makes sure each destination has exactly one live subscription.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/rs/zerolog/log"
)

const DefaultReconnectDelay = 5 * time.Second

// Message is a frame received on a subscription.
type Message struct {
	Destination string
	ContentType string
	Body        []byte
	// Err is set when the connection failed. It is the last message of the
	// subscription.
	Err error
}

// Handler receives messages whose body is valid JSON.
type Handler func(Message)

// JSON decodes each message into T before calling fn. Messages that do not
// decode are logged and dropped.
func JSON[T any](fn func(T)) Handler {
	return func(msg Message) {
		var v T
		if err := json.Unmarshal(msg.Body, &v); err != nil {
			log.Warn().Err(err).Str("destination", msg.Destination).Msg("Dropping realtime message")
			return
		}
		fn(v)
	}
}

// Broker is an established connection to the message broker.
type Broker interface {
	Subscribe(destination string) (Subscription, error)
	Disconnect() error
}

// watchedBroker is a Broker that reports when its connection goes away.
// Without it a lost connection is only noticed through a failed subscription.
type watchedBroker interface {
	Done() <-chan struct{}
}

type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Unsubscribe() error
}

// Dialer opens a broker connection.
type Dialer func(ctx context.Context) (Broker, error)

type registration struct {
	handler Handler
	// sub is nil while the connection is down
	sub Subscription
}

type Manager struct {
	dial           Dialer
	reconnectDelay time.Duration

	mu         sync.Mutex
	broker     Broker
	ready      chan struct{}
	cancelDial context.CancelFunc
	subs       map[string]*registration
	dials      int
}

type ManagerOption func(*Manager)

func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

func NewManager(dial Dialer, options ...ManagerOption) *Manager {
	m := &Manager{
		dial:           dial,
		reconnectDelay: DefaultReconnectDelay,
		ready:          make(chan struct{}),
		subs:           make(map[string]*registration),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Connect starts dialing unless the manager is connected or already dialing.
// Failed dials are retried every reconnect delay until one succeeds, ctx is
// done or Disconnect is called. Ready is closed once connected.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked(ctx)
}

// Ready is closed when the current connection attempt succeeds.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker != nil
}

// Dials counts connection attempts.
func (m *Manager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Destinations returns the destinations with a registered handler.
func (m *Manager) Destinations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	destinations := make([]string, 0, len(m.subs))
	for d := range m.subs {
		destinations = append(destinations, d)
	}
	return destinations
}

// Subscribe connects if needed and subscribes handler to destination. A
// previous subscription to the same destination is cancelled first.
func (m *Manager) Subscribe(ctx context.Context, destination string, handler Handler) error {
	if destination == "" || handler == nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "[Subscribe] destination and handler are required")
	}

	// The dial loop is shared and must not stop when this caller gives up
	m.Connect(context.WithoutCancel(ctx))
	select {
	case <-m.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broker == nil && m.cancelDial == nil {
		return apperrors.Wrapf(apperrors.ErrDisconnected, "[Subscribe] %s", destination)
	}
	if old, ok := m.subs[destination]; ok {
		m.cancelLocked(destination, old)
	}

	reg := &registration{handler: handler}
	m.subs[destination] = reg
	if m.broker == nil {
		// Subscribed once the connection is back
		return nil
	}
	if err := m.subscribeLocked(destination, reg); err != nil {
		delete(m.subs, destination)
		return err
	}
	return nil
}

// Unsubscribe cancels the subscription to destination, if any.
func (m *Manager) Unsubscribe(destination string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.subs[destination]; ok {
		m.cancelLocked(destination, reg)
	}
}

// Disconnect cancels every subscription and closes the connection. The next
// Subscribe connects again.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	for destination, reg := range m.subs {
		m.cancelLocked(destination, reg)
	}
	broker := m.broker
	m.broker = nil
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	// Wake callers waiting on the old promise; they see the disconnect
	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
	m.ready = make(chan struct{})
	m.mu.Unlock()

	if broker == nil {
		return nil
	}
	log.Info().Msg("Realtime disconnected")
	return broker.Disconnect()
}

func (m *Manager) connectLocked(ctx context.Context) {
	if m.broker != nil || m.cancelDial != nil {
		return
	}
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	go m.dialLoop(dialCtx, m.ready)
}

func (m *Manager) dialLoop(ctx context.Context, ready chan struct{}) {
	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		m.dials++
		m.mu.Unlock()

		broker, err := m.dial(ctx)
		if err == nil {
			if !m.connected(broker, ready) {
				_ = broker.Disconnect()
			}
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", m.reconnectDelay).Msg("Realtime connect failed")
		timer := time.NewTimer(m.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.dialStopped(ready)
			return
		case <-timer.C:
		}
	}
}

// connected installs broker unless Disconnect was called while dialing.
func (m *Manager) connected(broker Broker, ready chan struct{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready != ready {
		return false
	}

	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.broker = broker
	for destination, reg := range m.subs {
		if reg.sub != nil {
			continue
		}
		if err := m.subscribeLocked(destination, reg); err != nil {
			log.Err(err).Str("destination", destination).Msg("Failed to resubscribe")
		}
	}
	if w, ok := broker.(watchedBroker); ok {
		go m.watch(broker, w.Done())
	}
	close(ready)
	log.Info().Int("subscriptions", len(m.subs)).Msg("Realtime connected")
	return true
}

func (m *Manager) watch(broker Broker, done <-chan struct{}) {
	<-done
	m.connectionLost(broker)
}

func (m *Manager) dialStopped(ready chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready == ready {
		m.cancelDial = nil
	}
}

// connectionLost drops broker. With handlers registered it dials again and
// subscribes them once connected; otherwise the next Subscribe connects.
func (m *Manager) connectionLost(broker Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broker != broker {
		return
	}

	m.broker = nil
	for _, reg := range m.subs {
		reg.sub = nil
	}
	m.ready = make(chan struct{})
	go func() {
		_ = broker.Disconnect()
	}()

	if len(m.subs) == 0 {
		log.Warn().Msg("Realtime connection lost")
		return
	}
	log.Warn().Int("subscriptions", len(m.subs)).Msg("Realtime connection lost, reconnecting")
	m.connectLocked(context.Background())
}

func (m *Manager) subscribeLocked(destination string, reg *registration) error {
	sub, err := m.broker.Subscribe(destination)
	if err != nil {
		return apperrors.Wrapf(err, "[Subscribe] %s", destination)
	}
	reg.sub = sub
	go m.pump(destination, m.broker, sub, reg.handler)

	log.Debug().Str("destination", destination).Msg("Subscribed")
	return nil
}

func (m *Manager) cancelLocked(destination string, reg *registration) {
	delete(m.subs, destination)
	if reg.sub == nil {
		return
	}
	if err := reg.sub.Unsubscribe(); err != nil {
		log.Err(err).Str("destination", destination).Msg("Failed to unsubscribe")
	}
	reg.sub = nil
}

func (m *Manager) pump(destination string, broker Broker, sub Subscription, handler Handler) {
	for msg := range sub.Messages() {
		if msg.Err != nil {
			log.Err(msg.Err).Str("destination", destination).Msg("Realtime subscription failed")
			m.connectionLost(broker)
			return
		}
		if !json.Valid(msg.Body) {
			log.Warn().Str("destination", destination).Int("size", len(msg.Body)).Msg("Dropping malformed realtime message")
			continue
		}
		handler(msg)
	}
}
