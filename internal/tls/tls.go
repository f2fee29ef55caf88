package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// Config names the PEM material presented by the HTTPS listener.
type Config struct {
	CertChainFile string
	KeyFile       string
	MinVersion    string
}

// TLS 1.2 suites of the Mozilla intermediate profile that Go implements.
// TLS 1.3 suites are not configurable.
var intermediateCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// BuildServer loads the certificate chain and private key, checks that the
// key belongs to the leaf and that the leaf is currently valid, and returns a
// server configuration following the Mozilla intermediate profile.
func BuildServer(cfg Config) (*tls.Config, *CertificateInfo, error) {
	if strings.TrimSpace(cfg.CertChainFile) == "" {
		return nil, nil, NewConfigMissingError("cert_chain_file")
	}
	if strings.TrimSpace(cfg.KeyFile) == "" {
		return nil, nil, NewConfigMissingError("key_file")
	}

	chainPEM, err := readMaterial(cfg.CertChainFile)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := readMaterial(cfg.KeyFile)
	if err != nil {
		return nil, nil, err
	}

	certificate, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return nil, nil, NewCertificateLoadError(cfg.CertChainFile, cfg.KeyFile, err)
	}

	leaf, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		return nil, nil, NewCertificateParsingError(cfg.CertChainFile, err)
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return nil, nil, NewCertificateNotYetValidError(cfg.CertChainFile, leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return nil, nil, NewCertificateExpiredError(cfg.CertChainFile, leaf.NotAfter.Format(time.RFC3339))
	}
	certificate.Leaf = leaf

	minVersion, err := parseMinVersion(cfg.MinVersion)
	if err != nil {
		return nil, nil, err
	}

	serverConfig := &tls.Config{
		Certificates:     []tls.Certificate{certificate},
		MinVersion:       minVersion,
		CipherSuites:     intermediateCipherSuites,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		NextProtos:       []string{"http/1.1"},
	}

	info := &CertificateInfo{
		Subject:     leaf.Subject.String(),
		Issuer:      leaf.Issuer.String(),
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
		DNSNames:    leaf.DNSNames,
		IPAddresses: leaf.IPAddresses,
		ChainLength: len(certificate.Certificate),
		CertFile:    cfg.CertChainFile,
		KeyFile:     cfg.KeyFile,
	}

	return serverConfig, info, nil
}

func readMaterial(path string) ([]byte, error) {
	//nolint:gosec // Certificate paths are configured by the operator
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, NewFileNotFoundError(path)
	case errors.Is(err, fs.ErrPermission):
		return nil, NewFilePermissionError(path, "read")
	default:
		return nil, NewTLSErrorWithCause(ErrorTypeCertificateLoad, fmt.Sprintf("failed to read %s", path), err)
	}
}

func parseMinVersion(version string) (uint16, error) {
	switch strings.TrimSpace(version) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, NewTLSError(ErrorTypeProtocolMismatch, fmt.Sprintf("unsupported minimum TLS version %q", version)).
			WithSuggestion("Use TLS version 1.2 or 1.3")
	}
}
