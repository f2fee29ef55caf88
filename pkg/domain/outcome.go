package domain

// Outcome is the single result of one transformation request. Exactly one of
// Document or Failure is meaningful.
type Outcome struct {
	Document string
	Failure  *TransformError
}

// Success wraps a transformed document.
func Success(document string) Outcome {
	return Outcome{Document: document}
}

// Failure wraps a domain failure with the given code and message.
func Failure(code int, message string) Outcome {
	return Outcome{Failure: &TransformError{Code: code, Message: message}}
}

// OK reports whether the outcome carries a document.
func (o Outcome) OK() bool {
	return o.Failure == nil
}
