package domain

import "time"

// TLSContext captures TLS connection details extracted after a handshake.
type TLSContext struct {
	Version            string        `json:"version"`
	CipherSuite        string        `json:"cipher_suite"`
	ServerName         string        `json:"server_name,omitempty"`
	PeerCertificates   []string      `json:"peer_certificates,omitempty"`
	NegotiatedProtocol string        `json:"negotiated_protocol,omitempty"`
	HandshakeDuration  time.Duration `json:"handshake_duration"`
	ClientAuth         bool          `json:"client_auth"`
}
