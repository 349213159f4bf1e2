package queue

import "errors"

var (
	ErrStopped    = errors.New("work queue stopped")
	ErrNilPayload = errors.New("job payload is nil")

	// Capacity errors: rejected at submission, no Job created.
	ErrQueueFull      = errors.New("work queue full")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrOwnerQueueFull = errors.New("owner queued-job limit reached")
)

// IsCapacity reports whether err is one of the admission/capacity rejections.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrOwnerQueueFull)
}
