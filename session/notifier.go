package session

import "sync"

type EventType string

const (
	EventLogin     EventType = "login"
	EventRefreshed EventType = "refreshed"
	EventLogout    EventType = "logout"
)

// LogoutReason tells listeners why a session ended.
type LogoutReason string

const (
	ReasonUser           LogoutReason = "user"
	ReasonSessionExpired LogoutReason = "session_expired"
)

// Event is published whenever the session changes. User is set for login and
// refresh events, Reason for logout events.
type Event struct {
	Type   EventType
	User   *UserProfile
	Reason LogoutReason
}

type listener struct {
	id int
	fn func(Event)
}

// Notifier is the only channel between the request machinery and the rest of
// the application. Listeners run synchronously, in subscription order.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listener
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// OnSessionChanged registers fn and returns a function that removes it.
func (n *Notifier) OnSessionChanged(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every listener. Publishing on a nil Notifier is a no-op.
func (n *Notifier) Publish(e Event) {
	if n == nil {
		return
	}
	n.mu.RLock()
	listeners := make([]listener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, l := range listeners {
		l.fn(e)
	}
}

func LoginEvent(user UserProfile) Event {
	return Event{Type: EventLogin, User: &user}
}

func RefreshedEvent(user UserProfile) Event {
	return Event{Type: EventRefreshed, User: &user}
}

func LogoutEvent(reason LogoutReason) Event {
	return Event{Type: EventLogout, Reason: reason}
}
