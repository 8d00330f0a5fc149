package domain

import "errors"

var (
	ErrAccountNotFound     = errors.New("reportledger: account not found")
	ErrAccountExists       = errors.New("reportledger: account already exists")
	ErrReportNotFound      = errors.New("reportledger: report request not found")
	ErrTransactionNotFound = errors.New("reportledger: transaction not found")
	ErrInvalidAmount       = errors.New("reportledger: amount must be positive")
	ErrInvalidKind         = errors.New("reportledger: transaction kind not allowed")
	ErrInvalidInput        = errors.New("reportledger: invalid input")

	// Reservation
	ErrInsufficientCredits = errors.New("reportledger: insufficient credits")
	ErrIdempotencyConflict = errors.New("reportledger: request in progress")
	ErrIdempotencyMismatch = errors.New("reportledger: key reuse with mismatched payload")

	// Lifecycle
	ErrInvalidTransition = errors.New("reportledger: invalid report status transition")
	ErrAlreadyCompleted  = errors.New("reportledger: report already completed")
	ErrQueueFull         = errors.New("reportledger: generation queue full")

	// Provider output
	ErrEmptyOutput     = errors.New("reportledger: provider returned empty output")
	ErrMalformedOutput = errors.New("reportledger: provider output is not structured")

	// Storage
	ErrStorage = errors.New("reportledger: storage unavailable")
)

// IsNotFound returns true if err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrReportNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsRetryable returns true if the caller can safely resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrQueueFull)
}
