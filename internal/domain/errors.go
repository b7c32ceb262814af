package domain

import "errors"

// Error taxonomy for the pipeline. Stage-local transient errors are retried
// with backoff; only errors that exhaust their retry budget reach the
// coordinator.
var (
	// ErrDuplicatePost marks a post whose key was already admitted. Benign.
	ErrDuplicatePost = errors.New("duplicate post")

	// ErrInvalidPostKey marks a post with a malformed identity key.
	ErrInvalidPostKey = errors.New("invalid post key")

	// ErrStorageUnavailable wraps store failures. Admission fails closed on
	// it: the post is treated as not admitted but the error is surfaced.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrBackendTimeout marks a backend invocation that exceeded its timeout.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendUnavailable marks a backend transport or service failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrAnalysisFailed marks a post whose analysis exhausted every backend.
	// Terminal for the post, never fatal for the pipeline.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrRateLimited marks a transient transport rejection.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlockedByUser marks a subscriber that blocked the bot. Permanent.
	ErrBlockedByUser = errors.New("blocked by user")

	// ErrInvalidChat marks a chat the bot cannot reach. Permanent.
	ErrInvalidChat = errors.New("invalid chat")
)

// PermanentDeliveryError reports whether a delivery error must abandon the
// subscriber immediately instead of being retried.
func PermanentDeliveryError(err error) bool {
	return errors.Is(err, ErrBlockedByUser) || errors.Is(err, ErrInvalidChat)
}
