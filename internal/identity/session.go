// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import "sync"

// Session is the client-side sign-in state. Its zero value is signed out.
type Session struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// SignIn records the signed-in user and the bearer token for requests.
func (s *Session) SignIn(userID, token string) {
	s.mu.Lock()
	s.userID, s.token = userID, token
	s.mu.Unlock()
}

// SignOut clears the session.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.userID, s.token = "", ""
	s.mu.Unlock()
}

// UserID returns the signed-in user, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
