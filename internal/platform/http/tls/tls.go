// Package tls provides TLS certificate management building blocks used by
// the data plane's per-listener TLS resolver: static/self-signed issuance
// for development, an ACME HTTP-01 challenge provider for production
// certificate orchestration, and root CA pool construction for outbound
// calls. SNI-to-certificate resolution across a listener's TLS policy lives
// in the data-plane TLS resolver component, which is built on these
// primitives rather than duplicating them.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/relaymesh/gatewayd/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")
)

// Mode selects how a certificate is obtained for a TLS policy's domain set.
type Mode string

const (
	ModeOff        Mode = "off"
	ModeStatic     Mode = "static"
	ModeSelfSigned Mode = "selfsigned"
	ModeACME       Mode = "acme"
)

// IssuerConfig configures certificate issuance for one TLS policy.
type IssuerConfig struct {
	Mode Mode

	// Static mode.
	CertFile string
	KeyFile  string

	// Self-signed mode.
	SelfSignedDir string
}

// Issuer loads or generates certificates for a single TLS policy's domain
// set, keyed by mode. The caller (the data-plane TLS resolver) is
// responsible for indexing the resulting certificate by SNI and for
// watching for hot-swap triggers; Issuer only knows how to produce one.
type Issuer struct {
	cfg    *IssuerConfig
	logger *slog.Logger
}

// NewIssuer creates an Issuer for the given configuration.
func NewIssuer(cfg *IssuerConfig, logger *slog.Logger) *Issuer {
	return &Issuer{cfg: cfg, logger: logutil.NoopIfNil(logger)}
}

// Certificate returns a certificate for the policy's primary domain,
// issuing or loading it according to the configured mode. Returns
// (nil, nil) for ModeOff.
func (m *Issuer) Certificate(domains []string) (*cryptotls.Certificate, error) {
	switch m.cfg.Mode {
	case ModeOff, "":
		return nil, nil

	case ModeStatic:
		return m.loadStaticCert()

	case ModeSelfSigned:
		primary := "localhost"
		if len(domains) > 0 {
			primary = domains[0]
		}
		return m.getOrCreateSelfSigned(primary, domains)

	case ModeACME:
		return nil, fmt.Errorf("%w: acme certificates are obtained via ACMEManager, not Issuer", ErrInvalidTLSMode)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, m.cfg.Mode)
	}
}

// loadStaticCert loads a certificate from files.
func (m *Issuer) loadStaticCert() (*cryptotls.Certificate, error) {
	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return nil, ErrMissingCert
	}

	cert, err := cryptotls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	m.logger.Info("loaded static TLS certificate",
		"cert_file", m.cfg.CertFile,
		"key_file", m.cfg.KeyFile)

	return &cert, nil
}

// getOrCreateSelfSigned loads or generates a self-signed certificate
// covering the given domain set.
func (m *Issuer) getOrCreateSelfSigned(primary string, domains []string) (*cryptotls.Certificate, error) {
	dir := m.cfg.SelfSignedDir
	if dir == "" {
		dir = ".gatewayd/certs"
	}

	certFile := filepath.Join(dir, sanitizeFilename(primary)+".crt")
	keyFile := filepath.Join(dir, sanitizeFilename(primary)+".key")

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		m.logger.Info("loaded existing self-signed certificate", "cert_file", certFile)
		return &cert, nil
	}

	m.logger.Info("generating self-signed certificate", "domains", domains)

	cert, err := m.generateSelfSigned(primary, domains, certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "cert"
	}
	return string(out)
}

// generateSelfSigned creates a new self-signed certificate covering all of
// domains, writing it and its key to certFile/keyFile.
func (m *Issuer) generateSelfSigned(primary string, domains []string, certFile, keyFile string) (cryptotls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"gatewayd development"},
			CommonName:   primary,
		},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	seen := make(map[string]bool)
	addDomain := func(d string) {
		if seen[d] {
			return
		}
		seen[d] = true
		if ip := net.ParseIP(d); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, d)
		}
	}
	for _, d := range domains {
		addDomain(d)
	}
	addDomain(primary)
	addDomain("localhost")
	template.IPAddresses = append(template.IPAddresses, net.ParseIP("127.0.0.1"), net.ParseIP("::1"))

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certFile), 0700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write key: %w", err)
	}

	m.logger.Info("generated self-signed certificate",
		"cert_file", certFile,
		"key_file", keyFile,
		"expires", template.NotAfter)

	return cryptotls.X509KeyPair(certPEM, keyPEM)
}
