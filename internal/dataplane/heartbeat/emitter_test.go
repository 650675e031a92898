package heartbeat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitter_Tick_SendsPayload(t *testing.T) {
	var received atomic.Pointer[Payload]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nodes/heartbeat" {
			t.Errorf("path = %s, want /api/v1/nodes/heartbeat", r.URL.Path)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		received.Store(&p)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New("node-a", srv.URL, time.Hour, func() (int64, bool, string) {
		return 7, true, "ok"
	}, nil)

	e.tick(context.Background())

	got := received.Load()
	if got == nil {
		t.Fatal("expected a heartbeat to be received")
	}
	if got.NodeID != "node-a" || got.AppliedSequence != 7 || !got.Healthy || got.Message != "ok" {
		t.Errorf("unexpected payload: %+v", *got)
	}
	if e.consecutiveErrors.Load() != 0 {
		t.Errorf("consecutiveErrors = %d, want 0 after success", e.consecutiveErrors.Load())
	}
}

func TestEmitter_Tick_LogsAndContinuesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New("node-a", srv.URL, time.Hour, func() (int64, bool, string) {
		return 1, false, "degraded"
	}, nil)

	e.tick(context.Background())

	if e.consecutiveErrors.Load() == 0 {
		t.Error("expected consecutiveErrors to increment after failed sends")
	}
}
