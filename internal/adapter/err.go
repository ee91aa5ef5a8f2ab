package adapter

import "fmt"

// error type
const (
	Success = iota
	ChainUnavailable
	InvalidRequest
	LockFailed
	ClaimFailed
	RefundFailed
)

// StatusError carries the typed failure class of an adapter operation
// so callers can tell recoverable transport failures from chain-level
// rejections.
type StatusError struct {
	Err    string
	Status int
}

func (e *StatusError) Error() string {
	return e.Err
}

func (e *StatusError) NeedRetry() bool {
	switch e.Status {
	case ChainUnavailable:
		return true
	case InvalidRequest, LockFailed, ClaimFailed, RefundFailed:
		return false
	default:
		return false
	}
}

// ErrChainUnavailable wraps an exhausted-retries transport failure.
func ErrChainUnavailable(chainID string, err error) *StatusError {
	return &StatusError{
		Err:    fmt.Sprintf("chain %s unavailable: %v", chainID, err),
		Status: ChainUnavailable,
	}
}
