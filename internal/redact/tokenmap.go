package redact

import (
	"errors"
	"maps"
	"strings"
)

var (
	// ErrForeignTokenMap is returned when a token map is applied to a
	// response from a different request.
	ErrForeignTokenMap = errors.New("token map belongs to a different request")
	// ErrTokenMapDisposed is returned when a disposed map is used.
	ErrTokenMapDisposed = errors.New("token map has been disposed")
)

// TokenMap maps tokens back to the substrings they replaced. It lives for a
// single request/response cycle and must not be stored beyond it.
type TokenMap struct {
	requestID string
	tokens    map[string]string
	disposed  bool
}

// NewTokenMap builds a map for requestID from token→original entries, e.g.
// when a caller hands the map back for rehydration.
func NewTokenMap(requestID string, entries map[string]string) *TokenMap {
	tokens := make(map[string]string, len(entries))
	maps.Copy(tokens, entries)
	return &TokenMap{requestID: requestID, tokens: tokens}
}

// RequestID returns the request this map belongs to.
func (m *TokenMap) RequestID() string { return m.requestID }

// Len returns the number of tokens.
func (m *TokenMap) Len() int { return len(m.tokens) }

// Entries returns a copy of the token→original mapping.
func (m *TokenMap) Entries() map[string]string {
	return maps.Clone(m.tokens)
}

// Rehydrate restores every token in text. requestID must match the request
// the map was created for.
func (m *TokenMap) Rehydrate(requestID, text string) (string, error) {
	if m == nil || m.disposed {
		return "", ErrTokenMapDisposed
	}
	if requestID != m.requestID {
		return "", ErrForeignTokenMap
	}
	if len(m.tokens) == 0 || !strings.Contains(text, tokenPrefix) {
		return text, nil
	}
	pairs := make([]string, 0, 2*len(m.tokens))
	for token, original := range m.tokens {
		pairs = append(pairs, token, original)
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}

// Dispose drops every mapping. Further use returns ErrTokenMapDisposed.
func (m *TokenMap) Dispose() {
	if m == nil {
		return
	}
	clear(m.tokens)
	m.disposed = true
}
