package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateInfo summarises the leaf of a loaded certificate chain.
type CertificateInfo struct {
	Subject     string
	Issuer      string
	NotBefore   time.Time
	NotAfter    time.Time
	DNSNames    []string
	IPAddresses []net.IP
	ChainLength int
	CertFile    string
	KeyFile     string
}

// Issuer signs generated certificates.
type Issuer struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

// CertificateGenerationOptions contains options for generating certificates
type CertificateGenerationOptions struct {
	CommonName   string
	Organization []string
	DNSNames     []string
	IPAddresses  []net.IP
	NotBefore    time.Time
	ValidFor     time.Duration
	IsCA         bool
	Parent       *Issuer
}

// GeneratedCertificate is a certificate with its ECDSA P-256 key.
type GeneratedCertificate struct {
	Certificate *x509.Certificate
	Key         *ecdsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// Issuer returns the certificate as a signer for further certificates.
func (g *GeneratedCertificate) Issuer() *Issuer {
	return &Issuer{Certificate: g.Certificate, Key: g.Key}
}

// GenerateCertificate creates a certificate, self-signed unless opts.Parent is set.
func GenerateCertificate(opts CertificateGenerationOptions) (*GeneratedCertificate, error) {
	if opts.ValidFor == 0 {
		opts.ValidFor = 365 * 24 * time.Hour
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Minute)
	}
	if opts.CommonName == "" {
		opts.CommonName = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: opts.Organization,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotBefore.Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPAddresses,
	}

	if opts.IsCA {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign
		template.ExtKeyUsage = nil
	} else if len(template.DNSNames) == 0 && len(template.IPAddresses) == 0 {
		template.DNSNames = []string{"localhost"}
		template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	parent, signer := template, crypto.Signer(key)
	if opts.Parent != nil {
		parent, signer = opts.Parent.Certificate, opts.Parent.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &GeneratedCertificate{
		Certificate: cert,
		Key:         key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// ServerChainFiles names the files written by GenerateServerChain.
type ServerChainFiles struct {
	CAFile        string
	CertChainFile string
	KeyFile       string
}

// GenerateServerChain writes a development CA, a server certificate signed by
// it, the chain file (leaf then CA) and the server key into dir.
func GenerateServerChain(dir string, opts CertificateGenerationOptions) (*ServerChainFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	ca, err := GenerateCertificate(CertificateGenerationOptions{
		CommonName:   "enigma development CA",
		Organization: opts.Organization,
		IsCA:         true,
		ValidFor:     opts.ValidFor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA certificate: %w", err)
	}

	opts.IsCA = false
	opts.Parent = ca.Issuer()
	leaf, err := GenerateCertificate(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate server certificate: %w", err)
	}

	files := &ServerChainFiles{
		CAFile:        filepath.Join(dir, "ca.pem"),
		CertChainFile: filepath.Join(dir, "server-chain.pem"),
		KeyFile:       filepath.Join(dir, "server-key.pem"),
	}

	chain := append(append([]byte{}, leaf.CertPEM...), ca.CertPEM...)
	if err := WriteCertificateFiles(chain, leaf.KeyPEM, files.CertChainFile, files.KeyFile); err != nil {
		return nil, err
	}
	if err := os.WriteFile(files.CAFile, ca.CertPEM, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write CA file: %w", err)
	}
	return files, nil
}

// WriteCertificateFiles writes certificate and key to files
func WriteCertificateFiles(certPEM, keyPEM []byte, certFile, keyFile string) error {
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}

	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	return nil
}
