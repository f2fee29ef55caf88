package api

import (
	"net/http"

	"github.com/polisai/enigma/pkg/domain"
)

// Failure statuses per operation. Encrypt reports 503 where the other two
// report 403 for the same class of engine error; clients depend on both.
const (
	EncryptFailureStatus = http.StatusServiceUnavailable
	DecryptFailureStatus = http.StatusForbidden
	QueryFailureStatus   = http.StatusForbidden
)

// FailureStatus returns the HTTP status used for a domain failure of op.
func FailureStatus(op domain.Operation) int {
	switch op {
	case domain.OperationEncrypt:
		return EncryptFailureStatus
	case domain.OperationDecrypt:
		return DecryptFailureStatus
	default:
		return QueryFailureStatus
	}
}

// Response is the common shape of every typed response variant.
type Response interface {
	StatusCode() int
	Body() any
}

// EncryptResponse is either EncryptSuccess or EncryptFailure.
type EncryptResponse interface {
	Response
	isEncryptResponse()
}

// DecryptResponse is either DecryptSuccess or DecryptFailure.
type DecryptResponse interface {
	Response
	isDecryptResponse()
}

// QueryResponse is either QuerySuccess or QueryFailure.
type QueryResponse interface {
	Response
	isQueryResponse()
}

// EncryptSuccess carries the document with its configured fields encrypted.
type EncryptSuccess struct{ Document string }

// EncryptFailure is answered with EncryptFailureStatus.
type EncryptFailure struct{ Error domain.ErrorResponse }

// DecryptSuccess carries the document with its encrypted fields restored.
type DecryptSuccess struct{ Document string }

// DecryptFailure is answered with DecryptFailureStatus.
type DecryptFailure struct{ Error domain.ErrorResponse }

// QuerySuccess carries the rewritten query document.
type QuerySuccess struct{ Document string }

// QueryFailure is answered with QueryFailureStatus.
type QueryFailure struct{ Error domain.ErrorResponse }

func (EncryptSuccess) StatusCode() int { return http.StatusOK }
func (r EncryptSuccess) Body() any     { return r.Document }
func (EncryptSuccess) isEncryptResponse() {}

func (EncryptFailure) StatusCode() int { return EncryptFailureStatus }
func (r EncryptFailure) Body() any     { return r.Error }
func (EncryptFailure) isEncryptResponse() {}

func (DecryptSuccess) StatusCode() int { return http.StatusOK }
func (r DecryptSuccess) Body() any     { return r.Document }
func (DecryptSuccess) isDecryptResponse() {}

func (DecryptFailure) StatusCode() int { return DecryptFailureStatus }
func (r DecryptFailure) Body() any     { return r.Error }
func (DecryptFailure) isDecryptResponse() {}

func (QuerySuccess) StatusCode() int { return http.StatusOK }
func (r QuerySuccess) Body() any     { return r.Document }
func (QuerySuccess) isQueryResponse() {}

func (QueryFailure) StatusCode() int { return QueryFailureStatus }
func (r QueryFailure) Body() any     { return r.Error }
func (QueryFailure) isQueryResponse() {}

func failureBody(o domain.Outcome) domain.ErrorResponse {
	return domain.ErrorResponse{Code: o.Failure.Code, Message: o.Failure.Message}
}

func encryptResponse(o domain.Outcome) EncryptResponse {
	if o.OK() {
		return EncryptSuccess{Document: o.Document}
	}
	return EncryptFailure{Error: failureBody(o)}
}

func decryptResponse(o domain.Outcome) DecryptResponse {
	if o.OK() {
		return DecryptSuccess{Document: o.Document}
	}
	return DecryptFailure{Error: failureBody(o)}
}

func queryResponse(o domain.Outcome) QueryResponse {
	if o.OK() {
		return QuerySuccess{Document: o.Document}
	}
	return QueryFailure{Error: failureBody(o)}
}
