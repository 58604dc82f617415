package storage

import "errors"

// Error kinds surfaced by the store. Callers are expected to branch with
// errors.Is rather than string matching, e.g. to fail over from the remote
// backend to the local one on ErrPermissionDenied or ErrTransport.
var (
	// ErrWriteDisabled is returned by any mutating call on a store built
	// with write access disabled. Never retried.
	ErrWriteDisabled = errors.New("write operations not allowed")

	// ErrConflict is returned by PutDocument when the expected version is
	// stale, or when a create-only put hits an existing path. SafeUpdate
	// absorbs it; direct PutDocument callers see it as-is.
	ErrConflict = errors.New("version conflict")

	// ErrPermissionDenied is an authentication or authorization failure.
	// Never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRateLimited surfaces only once the request executor has exhausted
	// its wait-and-retry budget against API rate limiting.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTransport wraps network failures and 5xx responses that survived
	// the retry budget.
	ErrTransport = errors.New("transport error")

	// ErrMaxRetriesExceeded is returned by SafeUpdate once the conflict
	// retry budget is spent. It means "retry later", not corruption.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
