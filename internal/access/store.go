// Package access gates the conversion routes behind API tokens kept in
// Postgres. Tokens are cached in memory and refreshed periodically so request
// handling never touches the database.
package access

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that no token list has been loaded yet,
	// typically because the database was not reachable at startup.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Store is the in-memory token cache: token -> requests per rate interval.
type Store struct {
	mu    sync.RWMutex
	cache map[string]int
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps in a copy of tokens.
func (s *Store) Replace(tokens map[string]int) {
	cache := make(map[string]int, len(tokens))
	for k, v := range tokens {
		cache[k] = v
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// Ready is true once a token list has been loaded at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache != nil
}

// Check validates token against the cache.
func (s *Store) Check(token string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return ErrTokenStoreNotReady
	}
	if _, ok := s.cache[token]; !ok {
		return ErrInvalidAPIKey
	}
	return nil
}

// RateLimit returns the token's limit, 0 (unlimited) for unknown tokens.
func (s *Store) RateLimit(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[token]
}
