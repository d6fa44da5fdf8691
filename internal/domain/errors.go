package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents an upstream failure (unreachable host or
// non-success status). It may be retriable.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "ticker", "klines", "dial")
	Err       error  // Underlying error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ValidationError rejects an operation synchronously with no state mutation
// (untracking the last symbol, out-of-range page, unknown timeframe).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed [" + e.Field + "]: " + e.Reason
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

// NewValidationError creates a validation error for a rejected input
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrConnectionFailed is returned when the websocket connection fails. Usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrFeedExhausted is reported after the reconnect attempt cap is hit.
	// The client stays disconnected until Connect is called again.
	ErrFeedExhausted = errors.New("feed reconnect attempts exhausted")

	// ErrStoreFull is returned when the persistent store rejects a write for
	// lack of space. The cache responds with one evict-and-retry cycle.
	ErrStoreFull = errors.New("persistent store full")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when the configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
