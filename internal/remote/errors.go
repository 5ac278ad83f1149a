package remote

import "errors"

// Common errors returned by transports.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, remote.ErrNotFound) {
//	    // The blob has not been created yet
//	}
var (
	// ErrNotFound is returned when the requested blob does not exist.
	ErrNotFound = errors.New("remote blob not found")

	// ErrRemoteUnavailable is returned when the transport cannot reach
	// the remote (network failure, closed database, unreadable drive).
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrUnsupported is returned when the remote refuses an operation,
	// most notably creating an empty file. Callers must write initial
	// content with Update instead.
	ErrUnsupported = errors.New("operation not supported by remote")

	// ErrInvalidRef is returned when a Ref has no user or no path.
	ErrInvalidRef = errors.New("invalid remote reference")
)

// IsNotFound returns true if err means the blob does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if err means the remote could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsRetryable returns true if the error is likely to succeed on retry.
// Only transport failures are transient; missing blobs and refused
// operations will fail the same way again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRemoteUnavailable)
}
