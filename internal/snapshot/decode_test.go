package snapshot_test

import (
	"testing"

	"github.com/relaymesh/gatewayd/internal/snapshot"
)

func TestDecodeMatchExpr_Nil(t *testing.T) {
	m, err := snapshot.DecodeMatchExpr(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Host != "" || m.PathPrefix != "" || m.PathRegex != "" || m.Method != nil || m.Headers != nil || m.Query != nil || m.WS != nil {
		t.Errorf("expected zero value, got %+v", m)
	}
}

func TestDecodeMatchExpr_FullShape(t *testing.T) {
	raw := map[string]any{
		"host":        "example.com",
		"path_prefix": "/api",
		"method":      []string{"GET", "POST"},
		"headers":     map[string]string{"X-Api-Key": "abc"},
		"query":       map[string]string{"v": "2"},
		"ws":          false,
	}

	m, err := snapshot.DecodeMatchExpr(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Host != "example.com" || m.PathPrefix != "/api" {
		t.Errorf("unexpected decode: %+v", m)
	}
	if len(m.Method) != 2 || m.Method[0] != "GET" {
		t.Errorf("method not decoded: %+v", m.Method)
	}
	if m.Headers["X-Api-Key"] != "abc" {
		t.Errorf("headers not decoded: %+v", m.Headers)
	}
	if m.WS == nil || *m.WS != false {
		t.Errorf("ws not decoded: %+v", m.WS)
	}
}

func TestDecodeMatchExpr_UnknownFieldRejected(t *testing.T) {
	raw := map[string]any{
		"host":          "example.com",
		"bogus_field_x": "oops",
	}

	_, err := snapshot.DecodeMatchExpr(raw)
	if err == nil {
		t.Fatal("expected error for unknown match_expr field")
	}
}
