// Package apperrors holds the sentinel errors shared across the pipeline.
// Callers wrap them with fmt.Errorf("...: %w", err) and check with errors.Is.
package apperrors

import "errors"

var (
	// ErrProviderUnavailable is returned when Plaid, Qloo or the LLM cannot be reached
	// or answers with a non-2xx status.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedOutput marks model output that could not be parsed into the expected shape.
	// It is logged and replaced by a fallback, never returned to HTTP clients.
	ErrMalformedOutput = errors.New("malformed model output")

	ErrNotFound = errors.New("not found")

	// ErrNotUsable is returned when a campaign exists but is inactive, outside its
	// validity window, or has reached its usage limit.
	ErrNotUsable = errors.New("campaign not usable")

	ErrDuplicateCode = errors.New("coupon code already exists")

	// ErrSyncTimeout is returned when the bank sync loop exhausts its attempt or time budget.
	ErrSyncTimeout = errors.New("transaction sync timed out")

	ErrProcessingFailed = errors.New("processing failed")
)
