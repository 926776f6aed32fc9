package bus

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError asks a durable subscription to redeliver the message
// after Delay instead of acknowledging it.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Delay > 0:
		return fmt.Sprintf("redeliver in %s: %v", e.Delay, e.Err)
	default:
		return fmt.Sprintf("redeliver: %v", e.Err)
	}
}

func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter marks err for redelivery. Negative delays mean immediately.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("redelivery requested")
	}
	return &RetryableError{Err: err, Delay: max(delay, 0)}
}

// RetryDelay reports whether err requests redelivery, and after how long.
func RetryDelay(err error) (time.Duration, bool) {
	var re *RetryableError
	if !errors.As(err, &re) || re == nil {
		return 0, false
	}
	return max(re.Delay, 0), true
}
