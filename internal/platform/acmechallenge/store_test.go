package acmechallenge

import (
	"testing"
	"time"

	"github.com/go-acme/lego/v4/challenge"
)

var _ challenge.Provider = (*Store)(nil)

func TestStore_PutGet(t *testing.T) {
	s := NewStore()
	s.Put("tok-1", "key-auth-1")

	got, ok := s.Get("tok-1")
	if !ok {
		t.Fatal("expected token to be found")
	}
	if got != "key-auth-1" {
		t.Errorf("got %q, want key-auth-1", got)
	}
}

func TestStore_GetUnknownTokenNotFound(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("missing"); ok {
		t.Error("expected not found for unknown token")
	}
}

func TestStore_RemoveDeletesToken(t *testing.T) {
	s := NewStore()
	s.Put("tok-1", "key-auth-1")
	s.Remove("tok-1")
	if _, ok := s.Get("tok-1"); ok {
		t.Error("expected token removed")
	}
}

func TestStore_ExpiredTokenNotFound(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	s := &Store{ttl: time.Minute, now: func() time.Time { return now }}

	s.Put("tok-1", "key-auth-1")
	now = start.Add(2 * time.Minute)

	if _, ok := s.Get("tok-1"); ok {
		t.Error("expected expired token to be not found")
	}
}

func TestStore_PresentAndCleanUp(t *testing.T) {
	s := NewStore()
	if err := s.Present("example.com", "tok-1", "key-auth-1"); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	got, ok := s.Get("tok-1")
	if !ok || got != "key-auth-1" {
		t.Fatalf("Get() = (%q, %v), want (key-auth-1, true)", got, ok)
	}

	if err := s.CleanUp("example.com", "tok-1", "key-auth-1"); err != nil {
		t.Fatalf("CleanUp() error = %v", err)
	}
	if _, ok := s.Get("tok-1"); ok {
		t.Error("expected token removed after CleanUp")
	}
}
