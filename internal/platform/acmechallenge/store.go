// Package acmechallenge holds HTTP-01 challenge key authorizations the
// control plane answers over /api/v1/acme/challenge/{token} (spec.md §6).
// It mirrors platform/http/tls's in-process HTTP01Provider, but the two
// are separate stores: that one backs the data plane's own ACME client
// talking to the directory server at the standard
// /.well-known/acme-challenge/ path, this one backs the control plane's
// admin-facing lookup of whatever token an external ACME orchestrator is
// currently proving.
package acmechallenge

import (
	"sync"
	"time"
)

// defaultTTL bounds how long an unclaimed token is served, in case the
// producer never calls Remove (orchestrator crash mid-challenge).
const defaultTTL = 10 * time.Minute

type entry struct {
	keyAuth   string
	expiresAt time.Time
}

// Store is a TTL-bounded token -> key authorization map.
type Store struct {
	ttl    time.Duration
	tokens sync.Map // string -> entry

	// now is overridable for testing; nil means time.Now.
	now func() time.Time
}

// NewStore creates a Store with the default 10 minute token TTL.
func NewStore() *Store {
	return &Store{ttl: defaultTTL}
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Put records keyAuth for token, overwriting any existing entry.
func (s *Store) Put(token, keyAuth string) {
	s.tokens.Store(token, entry{keyAuth: keyAuth, expiresAt: s.clock().Add(s.ttl)})
}

// Get returns the key authorization for token, or false if unknown or
// expired. An expired entry is removed as a side effect.
func (s *Store) Get(token string) (string, bool) {
	v, ok := s.tokens.Load(token)
	if !ok {
		return "", false
	}
	e := v.(entry)
	if s.clock().After(e.expiresAt) {
		s.tokens.Delete(token)
		return "", false
	}
	return e.keyAuth, true
}

// Remove deletes token, e.g. once the orchestrator's CleanUp fires.
func (s *Store) Remove(token string) {
	s.tokens.Delete(token)
}

// Present implements go-acme/lego/v4/challenge.Provider, letting an
// external lego-based ACME orchestrator drive this store directly instead
// of going through the HTTP admin surface: spec.md §4.5 describes the core
// as a passive HTTP-01 answerer, never an ACME client itself.
func (s *Store) Present(domain, token, keyAuth string) error {
	s.Put(token, keyAuth)
	return nil
}

// CleanUp implements go-acme/lego/v4/challenge.Provider.
func (s *Store) CleanUp(domain, token, keyAuth string) error {
	s.Remove(token)
	return nil
}
