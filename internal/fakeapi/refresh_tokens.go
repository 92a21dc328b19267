package fakeapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errRefreshTokenNotFound = errors.New("refresh token not found")

// storedRefreshToken is the server side record of an issued refresh token.
type storedRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// refreshTokens issues opaque refresh tokens, one per user. Issuing a new
// token for a user revokes the previous one, so tokens rotate on each refresh.
type refreshTokens struct {
	lock    sync.RWMutex
	tokens  map[string]*storedRefreshToken
	userIDs map[string]string // user ID to token
	expiry  time.Duration
	nowFunc func() time.Time
}

func newRefreshTokens(expiry time.Duration, now func() time.Time) *refreshTokens {
	return &refreshTokens{
		tokens:  make(map[string]*storedRefreshToken),
		userIDs: make(map[string]string),
		expiry:  expiry,
		nowFunc: now,
	}
}

func (rt *refreshTokens) Create(userID string) (string, error) {
	tokenBytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	rt.lock.Lock()
	defer rt.lock.Unlock()

	if existing, ok := rt.userIDs[userID]; ok {
		delete(rt.tokens, existing)
	}
	rt.tokens[token] = &storedRefreshToken{Token: token, UserID: userID, Iat: rt.nowFunc()}
	rt.userIDs[userID] = token
	return token, nil
}

// Consume returns the owner of token and revokes it.
func (rt *refreshTokens) Consume(token string) (string, error) {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	stored, ok := rt.tokens[token]
	if !ok {
		return "", errRefreshTokenNotFound
	}
	delete(rt.tokens, token)
	delete(rt.userIDs, stored.UserID)

	if rt.nowFunc().Sub(stored.Iat) > rt.expiry {
		return "", fmt.Errorf("refresh token expired")
	}
	return stored.UserID, nil
}

func (rt *refreshTokens) RevokeAll() {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	rt.tokens = make(map[string]*storedRefreshToken)
	rt.userIDs = make(map[string]string)
}
