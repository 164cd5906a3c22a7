// Package apperrors defines the error taxonomy shared by the payment
// and image-generation state machines.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientPoints is returned when a debit would take a user's
	// balance below zero. It is rejected before any row is written.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrChecksumMismatch is returned when the SHA256 checksum supplied
	// with a payment notice does not match the recomputed value.
	ErrChecksumMismatch = errors.New("trade checksum mismatch")

	// ErrDecryptionFailed is returned when a payment notice cannot be
	// decrypted with the configured hash key/IV.
	ErrDecryptionFailed = errors.New("trade info decryption failed")

	// ErrUnknownOrder is returned when a payment notice references an
	// order number we never issued.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrJobNotFound is returned when a queued task references a job row
	// that does not exist.
	ErrJobNotFound = errors.New("image job not found")

	// ErrCredentialUnavailable is returned when no storage credentials
	// are configured and no cached token is usable.
	ErrCredentialUnavailable = errors.New("storage credential unavailable")

	// ErrFetchFailed is returned when downloading a source or result
	// image over HTTP fails.
	ErrFetchFailed = errors.New("image fetch failed")

	// ErrUploadFailed is returned when a storage upload fails after the
	// single credential-refresh retry.
	ErrUploadFailed = errors.New("storage upload failed")
)

// UpstreamKind classifies failures of the AI provider.
type UpstreamKind int

const (
	// UpstreamRejected means the provider answered with a non-2xx status.
	UpstreamRejected UpstreamKind = iota
	// UpstreamUnavailable means the provider could not be reached or
	// timed out.
	UpstreamUnavailable
)

func (k UpstreamKind) String() string {
	if k == UpstreamRejected {
		return "rejected"
	}
	return "unavailable"
}

// UpstreamError is returned uninterpreted by the AI transform gateway;
// retry policy belongs to the job state machine.
type UpstreamError struct {
	Kind       UpstreamKind
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Kind == UpstreamRejected {
		return fmt.Sprintf("upstream rejected request: status %d, body: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream unavailable: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err is an UpstreamError of any kind.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
