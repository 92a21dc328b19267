package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/session"
	"golang.org/x/oauth2"
)

const handshakeTimeout = 10 * time.Second

// StompConfig describes a STOMP broker reached over a websocket.
type StompConfig struct {
	URL string
	// Tokens supplies the bearer token sent with CONNECT. Without a session
	// the connection is anonymous. Optional.
	Tokens    oauth2.TokenSource
	HeartBeat time.Duration
	Host      string
	// Header is sent with the websocket handshake.
	Header http.Header
}

// StompDialer dials the broker with STOMP 1.2 over a websocket.
func StompDialer(cfg StompConfig) Dialer {
	return func(ctx context.Context) (Broker, error) {
		token, err := bearerToken(cfg.Tokens)
		if err != nil {
			return nil, fmt.Errorf("stomp token: %w", err)
		}

		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		}
		ws, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", cfg.URL, err)
		}

		options := []func(*stomp.Conn) error{
			stomp.ConnOpt.HeartBeat(cfg.HeartBeat, cfg.HeartBeat),
		}
		if cfg.Host != "" {
			options = append(options, stomp.ConnOpt.Host(cfg.Host))
		}
		if token != "" {
			options = append(options, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
		}

		// stomp.Connect has no context; closing the socket aborts it
		stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
		rwc := newWSConn(ws)
		conn, err := stomp.Connect(rwc, options...)
		stop()
		if err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("stomp connect %s: %w", cfg.URL, err)
		}
		return &stompBroker{conn: conn, ws: rwc}, nil
	}
}

// bearerToken returns the access token to connect with, refreshed when it is
// about to expire.
func bearerToken(tokens oauth2.TokenSource) (string, error) {
	if tokens == nil {
		return "", nil
	}
	tok, err := tokens.Token()
	if errors.Is(err, session.ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// NewFromConfig returns a Manager for the configured websocket URL. CONNECT
// is authenticated with a token from tokens.
func NewFromConfig(cfg config.Config, tokens oauth2.TokenSource) *Manager {
	dial := StompDialer(StompConfig{
		URL:       cfg.GetWebSocketURL(),
		Tokens:    tokens,
		HeartBeat: cfg.GetHeartBeat(),
	})
	return NewManager(dial, WithReconnectDelay(cfg.GetReconnectDelay()))
}

type stompBroker struct {
	conn *stomp.Conn
	ws   *wsConn
}

// Done is closed when the websocket under the connection goes away.
func (b *stompBroker) Done() <-chan struct{} {
	return b.ws.Done()
}

func (b *stompBroker) Subscribe(destination string) (Subscription, error) {
	sub, err := b.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	return newStompSubscription(sub), nil
}

func (b *stompBroker) Disconnect() error {
	return b.conn.Disconnect()
}

type stompSubscription struct {
	sub      *stomp.Subscription
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

func newStompSubscription(sub *stomp.Subscription) *stompSubscription {
	s := &stompSubscription{
		sub:      sub,
		messages: make(chan Message),
		done:     make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *stompSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *stompSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
	})
	return err
}

func (s *stompSubscription) forward() {
	defer close(s.messages)
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case msg, ok := <-s.sub.C:
			if !ok {
				return
			}
			m := Message{Err: msg.Err}
			if msg.Err == nil {
				m.Destination = msg.Destination
				m.ContentType = msg.ContentType
				m.Body = msg.Body
			}
			select {
			case s.messages <- m:
			case <-s.done:
				s.drain()
				return
			}
			if msg.Err != nil {
				return
			}
		}
	}
}

// drain keeps the connection's read loop from blocking on a subscription
// nobody reads any more.
func (s *stompSubscription) drain() {
	for range s.sub.C {
	}
}
