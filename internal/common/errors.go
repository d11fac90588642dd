// Package common defines shared constants and sentinel errors used across
// the devsync server and client. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Registry-level errors.
	ErrorNotFound = errors.New("not found")

	// Access gate errors.
	ErrorAccessDenied = errors.New("access denied")

	// Validation errors for create/upload/save input.
	ErrorValidation = errors.New("validation error")

	// Blob store or registry I/O failures.
	ErrorStorage = errors.New("storage error")

	// Connection-level failures, isolated to a single peer.
	ErrorTransport = errors.New("transport error")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Session lifecycle errors.
	ErrorSessionClosed = errors.New("session closed")
)
