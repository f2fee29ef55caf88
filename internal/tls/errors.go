package tls

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TLSErrorType represents different categories of TLS errors
type TLSErrorType string

const (
	// Configuration errors
	ErrorTypeConfigMissing TLSErrorType = "config_missing"

	// Certificate errors
	ErrorTypeCertificateLoad        TLSErrorType = "certificate_load"
	ErrorTypeCertificateParsing     TLSErrorType = "certificate_parsing"
	ErrorTypeCertificateExpired     TLSErrorType = "certificate_expired"
	ErrorTypeCertificateNotYetValid TLSErrorType = "certificate_not_yet_valid"

	// File system errors
	ErrorTypeFileNotFound   TLSErrorType = "file_not_found"
	ErrorTypeFilePermission TLSErrorType = "file_permission"

	// TLS handshake errors
	ErrorTypeHandshakeFailure  TLSErrorType = "handshake_failure"
	ErrorTypeHandshakeTimeout  TLSErrorType = "handshake_timeout"
	ErrorTypeProtocolMismatch  TLSErrorType = "protocol_mismatch"
	ErrorTypeCipherNegotiation TLSErrorType = "cipher_negotiation"
	ErrorTypeClientDisconnect  TLSErrorType = "client_disconnect"

	// Server operation errors
	ErrorTypeListenerCreate   TLSErrorType = "listener_create"
	ErrorTypeConnectionHandle TLSErrorType = "connection_handle"
)

// TLSError represents a structured TLS error with context
type TLSError struct {
	Type        TLSErrorType
	Message     string
	Cause       error
	Context     map[string]any
	Suggestions []string
}

// Error implements the error interface
func (e *TLSError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", string(e.Type), e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, key := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error for error unwrapping
func (e *TLSError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TLSError) WithContext(key string, value any) *TLSError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *TLSError) WithSuggestion(suggestion string) *TLSError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns a detailed error message with suggestions
func (e *TLSError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Suggestions) > 0 {
		message += "\n\nSuggestions:"
		for i, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  %d. %s", i+1, suggestion)
		}
	}

	return message
}

// NewTLSError creates a new TLS error with the specified type and message
func NewTLSError(errorType TLSErrorType, message string) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

// NewTLSErrorWithCause creates a new TLS error with an underlying cause
func NewTLSErrorWithCause(errorType TLSErrorType, message string, cause error) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func NewConfigMissingError(field string) *TLSError {
	return NewTLSError(ErrorTypeConfigMissing, fmt.Sprintf("required configuration field '%s' is missing", field)).
		WithContext("field", field).
		WithSuggestion("Pass --cert-chain and --private-key, or set server.tls in the configuration file")
}

// Certificate error constructors
func NewCertificateLoadError(certFile, keyFile string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCertificateLoad, "failed to load certificate", cause).
		WithContext("cert_file", certFile).
		WithContext("key_file", keyFile).
		WithSuggestion("Check that the certificate and key files are in the correct format (PEM)").
		WithSuggestion("Ensure the private key matches the first certificate of the chain")
}

func NewCertificateParsingError(certFile string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCertificateParsing, "failed to parse certificate", cause).
		WithContext("cert_file", certFile).
		WithSuggestion("Ensure the chain file contains PEM encoded CERTIFICATE blocks, leaf first")
}

func NewCertificateExpiredError(certFile string, expiredAt string) *TLSError {
	return NewTLSError(ErrorTypeCertificateExpired, "certificate has expired").
		WithContext("cert_file", certFile).
		WithContext("expired_at", expiredAt).
		WithSuggestion("Renew the expired certificate")
}

func NewCertificateNotYetValidError(certFile string, validFrom string) *TLSError {
	return NewTLSError(ErrorTypeCertificateNotYetValid, "certificate is not yet valid").
		WithContext("cert_file", certFile).
		WithContext("valid_from", validFrom).
		WithSuggestion("Check the system clock is correct")
}

// File system error constructors
func NewFileNotFoundError(filePath string) *TLSError {
	return NewTLSError(ErrorTypeFileNotFound, fmt.Sprintf("file not found: %s", filePath)).
		WithContext("file_path", filePath).
		WithSuggestion("Verify the file path is correct").
		WithSuggestion("Run 'enigma gen-cert' to create a development certificate chain")
}

func NewFilePermissionError(filePath string, operation string) *TLSError {
	return NewTLSError(ErrorTypeFilePermission, fmt.Sprintf("permission denied for %s operation on file: %s", operation, filePath)).
		WithContext("file_path", filePath).
		WithContext("operation", operation).
		WithSuggestion("Check file permissions (should be readable by the process)").
		WithSuggestion("For private keys, ensure permissions are restrictive (e.g., 600)")
}

// TLS handshake error constructors
func NewHandshakeFailureError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeHandshakeFailure, fmt.Sprintf("TLS handshake failed: %s", reason), cause).
		WithContext("failure_reason", reason).
		WithSuggestion("Check that the client speaks TLS on this port")
}

func NewHandshakeTimeoutError(timeout string) *TLSError {
	return NewTLSError(ErrorTypeHandshakeTimeout, "TLS handshake timed out").
		WithContext("timeout", timeout).
		WithSuggestion("Check network connectivity between client and server").
		WithSuggestion("Consider increasing server.handshake_timeout")
}

func NewProtocolMismatchError(serverMinVersion string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeProtocolMismatch, "TLS protocol version mismatch", cause).
		WithContext("server_min_version", serverMinVersion).
		WithSuggestion("Update the client to support TLS 1.2 or newer")
}

func NewCipherNegotiationError(cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCipherNegotiation, "no common cipher suites found", cause).
		WithSuggestion("Check client cipher suite support")
}

func NewClientDisconnectError(cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeClientDisconnect, "client closed the connection during the handshake", cause)
}

// Server operation error constructors
func NewListenerCreateError(address string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeListenerCreate, fmt.Sprintf("failed to create listener on address: %s", address), cause).
		WithContext("address", address).
		WithSuggestion("Check that the address is not already in use").
		WithSuggestion("Verify the address format is correct").
		WithSuggestion("Ensure the process has permission to bind to the address")
}

func NewConnectionHandleError(remoteAddr string, reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeConnectionHandle, fmt.Sprintf("failed to handle connection from %s: %s", remoteAddr, reason), cause).
		WithContext("remote_addr", remoteAddr).
		WithContext("handle_failure_reason", reason)
}

// Error classification helpers
func IsCertificateError(err error) bool {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		switch tlsErr.Type {
		case ErrorTypeCertificateLoad, ErrorTypeCertificateParsing,
			ErrorTypeCertificateExpired, ErrorTypeCertificateNotYetValid:
			return true
		}
	}
	return false
}

func IsHandshakeError(err error) bool {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		switch tlsErr.Type {
		case ErrorTypeHandshakeFailure, ErrorTypeHandshakeTimeout, ErrorTypeProtocolMismatch,
			ErrorTypeCipherNegotiation, ErrorTypeClientDisconnect:
			return true
		}
	}
	return false
}
