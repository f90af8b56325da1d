// Package opcua implements the OPC-UA acquisition engine: a process-wide
// session manager plus polling and subscription workers, built on
// github.com/gopcua/opcua (opcua.Client, ua.ParseNodeID, ua.ReadRequest,
// subscriptions with monitored items, variant coercion).
package opcua

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gopcua/opcua"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/gwerrors"
)

const (
	sessionTimeout = 60 * time.Second
	opTimeout      = 15 * time.Second
	certValidity   = 10 * 365 * 24 * time.Hour

	applicationURI = "urn:edge-gateway:opcua-client"
	certFileName   = "client.crt"
	keyFileName    = "client.key"
)

// SecurityConfig controls the session manager's certificate trust policy.
// CertDir holds the client's self-signed identity, generated on first use
// if absent. AutoAccept is the only trust policy this manager implements:
// it accepts the server's certificate without checking it against a trust
// list, so a blank AutoAccept with a non-blank CertDir is rejected rather
// than silently left unenforced.
type SecurityConfig struct {
	AutoAccept bool
	CertDir    string
}

// SessionManager is the process-wide singleton that owns the client
// identity (application certificate and private key) and opens one
// session per device on request.
type SessionManager struct {
	security SecurityConfig
	certFile string
	keyFile  string
	log      *zap.Logger
}

// NewSessionManager builds the singleton session manager. When
// security.CertDir is set, it provisions the client's self-signed
// certificate on disk (generating one if absent) so that sessions open
// over Basic256Sha256/SignAndEncrypt instead of no security at all. A
// blank CertDir disables certificate-based security entirely: sessions
// open with SecurityPolicy "None".
func NewSessionManager(security SecurityConfig, log *zap.Logger) (*SessionManager, error) {
	m := &SessionManager{security: security, log: log}
	if security.CertDir == "" {
		return m, nil
	}
	if !security.AutoAccept {
		return nil, gwerrors.Configuration("opc-ua certificate security requires auto_accept=true: no trust-list policy is implemented")
	}

	certFile, keyFile, err := ensureCertificate(security.CertDir)
	if err != nil {
		return nil, gwerrors.ConfigurationWrap("provision opc-ua client certificate", err)
	}
	m.certFile = certFile
	m.keyFile = keyFile
	return m, nil
}

// Session wraps an open opcua.Client for one device.
type Session struct {
	Client *opcua.Client
}

// Open connects a new session to endpointURL for the named device. A blank
// endpoint or client options the library rejects are configuration errors;
// a failed connect is a transient error. The caller (a worker) decides
// whether to retry.
func (m *SessionManager) Open(ctx context.Context, deviceID, endpointURL string) (*Session, error) {
	if endpointURL == "" {
		return nil, gwerrors.Configuration("opc-ua device has no endpoint locator")
	}

	opts := []opcua.Option{
		opcua.SessionTimeout(sessionTimeout),
		opcua.RequestTimeout(opTimeout),
	}
	if m.certFile != "" {
		opts = append(opts,
			opcua.SecurityPolicy("Basic256Sha256"),
			opcua.SecurityModeString("SignAndEncrypt"),
			opcua.CertificateFile(m.certFile),
			opcua.PrivateKeyFile(m.keyFile),
			opcua.ApplicationURI(applicationURI),
		)
	} else {
		opts = append(opts,
			opcua.SecurityPolicy("None"),
			opcua.SecurityModeString("None"),
		)
	}

	client, err := opcua.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, gwerrors.ConfigurationWrap(fmt.Sprintf("build opc-ua client for device %s", deviceID), err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, gwerrors.Transient(fmt.Sprintf("connect opc-ua session for device %s", deviceID), err)
	}

	m.log.Debug("opc-ua session opened", zap.String("device_id", deviceID), zap.String("endpoint", endpointURL),
		zap.Bool("secured", m.certFile != ""))
	return &Session{Client: client}, nil
}

// Close tears the session down, swallowing errors the way the supervisor's
// reconciliation loop does on teardown (logged, not propagated).
func (s *Session) Close(ctx context.Context, log *zap.Logger) {
	if s == nil || s.Client == nil {
		return
	}
	if err := s.Client.Close(ctx); err != nil {
		log.Warn("error closing opc-ua session", zap.Error(err))
	}
}

// ensureCertificate returns the client's certificate and key file paths
// under certDir, generating a 2048-bit self-signed pair on first run. The
// certificate's URI SAN is set to applicationURI, matching the
// ApplicationURI wired into the client options, since OPC-UA servers
// typically check that the two agree.
func ensureCertificate(certDir string) (certFile, keyFile string, err error) {
	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return "", "", fmt.Errorf("create cert dir: %w", err)
	}
	certFile = filepath.Join(certDir, certFileName)
	keyFile = filepath.Join(certDir, keyFileName)

	if _, statErr := os.Stat(certFile); statErr == nil {
		if _, statErr := os.Stat(keyFile); statErr == nil {
			return certFile, keyFile, nil
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("generate client key: %w", err)
	}

	uri, err := url.Parse(applicationURI)
	if err != nil {
		return "", "", fmt.Errorf("parse application uri: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate certificate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "edge-gateway-opcua-client"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		URIs:                  []*url.URL{uri},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create self-signed certificate: %w", err)
	}

	if err := writePEMFile(certFile, "CERTIFICATE", der, 0o644); err != nil {
		return "", "", err
	}
	if err := writePEMFile(keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

func writePEMFile(path, blockType string, bytes []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: bytes}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
