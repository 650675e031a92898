package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/relaymesh/gatewayd/internal/snapshot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func waitFor(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener at %s did not come up", addr)
}

func TestManager_ParkedListenerRespondsServiceUnavailable(t *testing.T) {
	port := freePort(t)
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("PreBindHTTP: %v", err)
	}
	defer m.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	waitFor(t, addr)

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestManager_ActivateDispatchesToHandler(t *testing.T) {
	port := freePort(t)
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("PreBindHTTP: %v", err)
	}
	defer m.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	waitFor(t, addr)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := m.Activate(port, snapshot.ProtocolHTTP, handler); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ports := m.ActivePorts()
	if len(ports) != 1 || ports[0] != port {
		t.Errorf("ActivePorts = %v, want [%d]", ports, port)
	}

	if err := m.Deactivate(port); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	resp2, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET after deactivate: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after deactivate = %d, want 503", resp2.StatusCode)
	}
}

func TestManager_ActivateUnboundPortFails(t *testing.T) {
	m := NewManager(nil, discardLogger())
	if err := m.Activate(65000, snapshot.ProtocolHTTP, http.NotFoundHandler()); err == nil {
		t.Error("expected error activating an unbound port")
	}
}

func TestManager_PreBindHTTPSRequiresTLSConfig(t *testing.T) {
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTPS([]int{freePort(t)}); err == nil {
		t.Error("expected error pre-binding https port without tls config")
	}
}

func TestManager_ShutdownDrainsInFlightRequest(t *testing.T) {
	port := freePort(t)
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("PreBindHTTP: %v", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	waitFor(t, addr)

	release := make(chan struct{})
	started := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := m.Activate(port, snapshot.ProtocolHTTP, handler); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			done <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			done <- fmt.Errorf("status = %d, want 200", resp.StatusCode)
			return
		}
		done <- nil
	}()

	<-started
	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		shutdownErr <- m.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Errorf("in-flight request: %v", err)
	}
	if err := <-shutdownErr; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestManager_ShutdownRespectsContextDeadline(t *testing.T) {
	port := freePort(t)
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("PreBindHTTP: %v", err)
	}
	defer m.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	waitFor(t, addr)

	started := make(chan struct{})
	block := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-block
	})
	if err := m.Activate(port, snapshot.ProtocolHTTP, handler); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer close(block)

	go http.Get("http://" + addr + "/")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); err == nil {
		t.Error("expected Shutdown to return an error when the deadline is exceeded with a request still in flight")
	}
}

func TestManager_PreBindIsIdempotent(t *testing.T) {
	port := freePort(t)
	m := NewManager(nil, discardLogger())
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("first PreBindHTTP: %v", err)
	}
	defer m.Close()
	if err := m.PreBindHTTP([]int{port}); err != nil {
		t.Fatalf("second PreBindHTTP should be a no-op, got: %v", err)
	}
}
