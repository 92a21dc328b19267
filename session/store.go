package session

import "errors"

// Store persists the single client side session. Implementations must make
// Save and Clear atomic across all Session fields: a concurrent Load observes
// either the old or the new session, never a mix.
type Store interface {
	// Load returns the stored session or ErrNoSession
	Load() (Session, error)

	// Save replaces the stored session
	Save(s Session) error

	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear() error
}

// SwapStore is a Store that can replace the session only if it has not
// changed since it was read.
type SwapStore interface {
	Store

	// CompareAndSwap writes next, or clears the store when next is nil, if the
	// stored session carries the tokens of old. A zero old matches an empty
	// store. It reports whether it wrote.
	CompareAndSwap(old Session, next *Session) (bool, error)
}

// CompareAndSwap uses the store's own CompareAndSwap when it is a SwapStore.
// Other stores get a Load followed by the write, which is not atomic.
func CompareAndSwap(store Store, old Session, next *Session) (bool, error) {
	if swapper, ok := store.(SwapStore); ok {
		return swapper.CompareAndSwap(old, next)
	}
	current, err := store.Load()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return false, err
	}
	if !sameTokens(current, old) {
		return false, nil
	}
	return true, write(store, next)
}

func sameTokens(a, b Session) bool {
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken
}

func write(store Store, next *Session) error {
	if next == nil {
		return store.Clear()
	}
	return store.Save(*next)
}

// AccessToken returns the stored access token, or "" when there is no session.
func AccessToken(store Store) string {
	if store == nil {
		return ""
	}
	s, err := store.Load()
	if err != nil {
		return ""
	}
	return s.AccessToken
}
