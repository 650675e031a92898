package snapshot_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/snapshot"
)

func boolPtr(b bool) *bool { return &b }

func minimalPool() (snapshot.UpstreamPool, snapshot.UpstreamTarget) {
	poolID := uuid.New()
	pool := snapshot.UpstreamPool{ID: poolID, Name: "pool-a", Policy: snapshot.LBRoundRobin}
	target := snapshot.UpstreamTarget{ID: uuid.New(), PoolID: poolID, Address: "127.0.0.1:9000", Weight: 1, Enabled: true}
	return pool, target
}

func TestValidate_DuplicateListener(t *testing.T) {
	pool, target := minimalPool()
	l1 := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	l2 := snapshot.Listener{ID: uuid.New(), Name: "b", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: true}

	s := &snapshot.Snapshot{
		Listeners:       []snapshot.Listener{l1, l2},
		UpstreamPools:   []snapshot.UpstreamPool{pool},
		UpstreamTargets: []snapshot.UpstreamTarget{target},
	}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindDuplicateListener)
}

func TestValidate_DuplicateListenerIgnoresDisabled(t *testing.T) {
	l1 := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	l2 := snapshot.Listener{ID: uuid.New(), Name: "b", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: false}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l1, l2}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_InvalidProtocol(t *testing.T) {
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 8080, Protocol: "ftp", Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindInvalidProtocol)
}

func TestValidate_HTTPSRequiresTLSPolicy(t *testing.T) {
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 443, Protocol: snapshot.ProtocolHTTPS, Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindHTTPSRequiresTLSPolicy)
}

func TestValidate_HTTPSWithResolvableTLSPolicyIsValid(t *testing.T) {
	policy := snapshot.TlsPolicy{ID: uuid.New(), Mode: snapshot.TLSModeManual, Domains: []string{"example.com"}, Status: snapshot.TLSPolicyActive}
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 443, Protocol: snapshot.ProtocolHTTPS, TLSPolicyID: &policy.ID, Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, TLSPolicies: []snapshot.TlsPolicy{policy}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_HTTPSWithDanglingTLSPolicy(t *testing.T) {
	missing := uuid.New()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 443, Protocol: snapshot.ProtocolHTTPS, TLSPolicyID: &missing, Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindHTTPSRequiresTLSPolicy)
}

func TestValidate_PortOutOfRange(t *testing.T) {
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 9999, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}}

	opts := &snapshot.ValidateOptions{HTTPPortRange: &snapshot.PortRange{Low: 8000, High: 8999}}
	valid, errs := snapshot.Validate(s, opts)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindPortOutOfRange)
}

func TestValidate_PortInRangeIsValid(t *testing.T) {
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 8500, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}}

	opts := &snapshot.ValidateOptions{HTTPPortRange: &snapshot.PortRange{Low: 8000, High: 8999}}
	valid, errs := snapshot.Validate(s, opts)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_InvalidRouteType(t *testing.T) {
	r := snapshot.Route{ID: uuid.New(), ListenerID: uuid.New(), Kind: "bogus", Priority: 1, UpstreamPoolID: uuid.New()}
	s := &snapshot.Snapshot{Routes: []snapshot.Route{r}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindInvalidRouteType)
}

func TestValidate_PathRouteRequiresMatchField(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindPath, Priority: 1, UpstreamPoolID: pool.ID}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindInvalidMatchExpr)
}

func TestValidate_PathRouteWithHostIsValid(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindPath, Priority: 1, UpstreamPoolID: pool.ID,
		Match: snapshot.MatchExpr{Host: "example.com"}}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_PortRouteNeedsNoMatchField(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindPort, Priority: 1, UpstreamPoolID: pool.ID}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_WSRouteRequiresWSTrue(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindWS, Priority: 1, UpstreamPoolID: pool.ID,
		Match: snapshot.MatchExpr{Host: "ws.example.com"}}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid: ws route without match_expr.ws=true")
	}
	assertHasKind(t, errs, snapshot.KindInvalidMatchExpr)
}

func TestValidate_WSRouteValid(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindWS, Priority: 1, UpstreamPoolID: pool.ID,
		Match: snapshot.MatchExpr{Host: "ws.example.com", WS: boolPtr(true)}}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_UncompilableRegexIsValidationErrorNotPanic(t *testing.T) {
	pool, _ := minimalPool()
	l := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 80, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	r := snapshot.Route{ID: uuid.New(), ListenerID: l.ID, Kind: snapshot.RouteKindPath, Priority: 1, UpstreamPoolID: pool.ID,
		Match: snapshot.MatchExpr{PathRegex: "(unterminated"}}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l}, Routes: []snapshot.Route{r}, UpstreamPools: []snapshot.UpstreamPool{pool}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	assertHasKind(t, errs, snapshot.KindInvalidMatchExpr)
}

func TestValidate_RouteDanglingListenerAndPool(t *testing.T) {
	r := snapshot.Route{ID: uuid.New(), ListenerID: uuid.New(), Kind: snapshot.RouteKindPort, Priority: 1, UpstreamPoolID: uuid.New()}
	s := &snapshot.Snapshot{Routes: []snapshot.Route{r}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid")
	}
	count := 0
	for _, e := range errs {
		if e.Kind == snapshot.KindInvalidMatchExpr {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 dangling-reference errors (listener + pool), got %d", count)
	}
}

func TestValidate_InvalidUpstreamAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid host:port", "127.0.0.1:8080", false},
		{"valid dns:port", "upstream.internal:9000", false},
		{"missing port", "127.0.0.1", true},
		{"empty", "", true},
		{"non-numeric port", "127.0.0.1:notaport", true},
		{"bracketed IPv6", "[::1]:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolID := uuid.New()
			pool := snapshot.UpstreamPool{ID: poolID, Name: "pool", Policy: snapshot.LBRoundRobin}
			target := snapshot.UpstreamTarget{ID: uuid.New(), PoolID: poolID, Address: tt.address, Weight: 1, Enabled: true}
			s := &snapshot.Snapshot{UpstreamPools: []snapshot.UpstreamPool{pool}, UpstreamTargets: []snapshot.UpstreamTarget{target}}

			valid, errs := snapshot.Validate(s, nil)
			if tt.wantErr && valid {
				t.Errorf("address %q: expected invalid", tt.address)
			}
			if !tt.wantErr && !valid {
				t.Errorf("address %q: expected valid, got errors: %v", tt.address, errs)
			}
		})
	}
}

func TestValidate_Determinism(t *testing.T) {
	l1 := snapshot.Listener{ID: uuid.New(), Name: "a", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	l2 := snapshot.Listener{ID: uuid.New(), Name: "b", Port: 8080, Protocol: snapshot.ProtocolHTTP, Enabled: true}
	l3 := snapshot.Listener{ID: uuid.New(), Name: "c", Port: 0, Protocol: "bogus", Enabled: true}

	s := &snapshot.Snapshot{Listeners: []snapshot.Listener{l1, l2, l3}}

	_, errs1 := snapshot.Validate(s, nil)
	_, errs2 := snapshot.Validate(s, nil)

	if len(errs1) != len(errs2) {
		t.Fatalf("non-deterministic error count: %d vs %d", len(errs1), len(errs2))
	}
	for i := range errs1 {
		if errs1[i] != errs2[i] {
			t.Fatalf("non-deterministic ordering at index %d: %+v vs %+v", i, errs1[i], errs2[i])
		}
	}
}

func TestValidate_EmptySnapshotIsValid(t *testing.T) {
	s := &snapshot.Snapshot{}
	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected empty snapshot valid, got errors: %v", errs)
	}
}

// selfSignedCert returns a cert_pem/key_pem pair valid for domain; a second
// call yields a key_pem that does not match the first call's cert_pem.
func selfSignedCert(t *testing.T, domain string) (certPEM, keyPEM string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyBlock := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return string(certBlock), string(keyBlock)
}

func TestValidate_CertificateValidMatchesDomain(t *testing.T) {
	certPEM, keyPEM := selfSignedCert(t, "example.com")
	c := snapshot.Certificate{ID: uuid.New(), Domain: "example.com", CertPEM: certPEM, KeyPEM: keyPEM}
	s := &snapshot.Snapshot{Certificates: []snapshot.Certificate{c}}

	valid, errs := snapshot.Validate(s, nil)
	if !valid {
		t.Fatalf("expected valid, got errors: %v", errs)
	}
}

func TestValidate_CertificateDomainNotInSAN(t *testing.T) {
	certPEM, keyPEM := selfSignedCert(t, "example.com")
	c := snapshot.Certificate{ID: uuid.New(), Domain: "other.example.com", CertPEM: certPEM, KeyPEM: keyPEM}
	s := &snapshot.Snapshot{Certificates: []snapshot.Certificate{c}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid: domain not in certificate SAN")
	}
	assertHasKind(t, errs, snapshot.KindInvalidCertificate)
}

func TestValidate_CertificateKeyMismatch(t *testing.T) {
	certPEM, _ := selfSignedCert(t, "example.com")
	_, otherKeyPEM := selfSignedCert(t, "example.com")
	c := snapshot.Certificate{ID: uuid.New(), Domain: "example.com", CertPEM: certPEM, KeyPEM: otherKeyPEM}
	s := &snapshot.Snapshot{Certificates: []snapshot.Certificate{c}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid: cert_pem/key_pem do not form a key pair")
	}
	assertHasKind(t, errs, snapshot.KindInvalidCertificate)
}

func TestValidate_CertificateUnparseablePEM(t *testing.T) {
	c := snapshot.Certificate{ID: uuid.New(), Domain: "example.com", CertPEM: "not pem", KeyPEM: "not pem either"}
	s := &snapshot.Snapshot{Certificates: []snapshot.Certificate{c}}

	valid, errs := snapshot.Validate(s, nil)
	if valid {
		t.Fatal("expected invalid: unparseable PEM")
	}
	assertHasKind(t, errs, snapshot.KindInvalidCertificate)
}

func assertHasKind(t *testing.T, errs []snapshot.ValidationError, kind string) {
	t.Helper()
	for _, e := range errs {
		if e.Kind == kind {
			return
		}
	}
	t.Errorf("expected an error of kind %q, got: %v", kind, errs)
}
