package remote

import (
	"errors"
	"fmt"
)

// ErrAuthExpired signals a 401 from any endpoint. Sync loops must halt until
// re-authentication.
var ErrAuthExpired = errors.New("authentication expired")

// ErrNotFound signals a 404 for a specific entity.
var ErrNotFound = errors.New("entity not found on server")

// ValidationError is a definitive business-rule rejection (4xx other than
// auth). Retrying cannot fix it; the offending outbox entry is dead-lettered.
type ValidationError struct {
	Status  int
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Details)
}

// NumberingConflictError reports that another device already claimed this
// invoice number for the vendor/year. Never auto-resolved; flagged for
// manual reconciliation.
type NumberingConflictError struct {
	InvoiceNo string
	Details   string
}

func (e *NumberingConflictError) Error() string {
	return fmt.Sprintf("invoice number %s already claimed: %s", e.InvoiceNo, e.Details)
}

// TransportError is a network-level failure (DNS, timeout, connection
// reset). The outcome of the request is unknown, so callers retry relying on
// server-side idempotency.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport failure: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a 5xx fault; retryable with backoff.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server fault (%d): %s", e.Status, e.Body)
}

// Retryable reports whether the engine should keep the entry queued and try
// again later.
func Retryable(err error) bool {
	var te *TransportError
	var se *ServerError
	return errors.As(err, &te) || errors.As(err, &se)
}
