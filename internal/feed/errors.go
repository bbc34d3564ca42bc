package feed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransport covers an unreachable or timed-out daemon. Retrying later may succeed.
	ErrTransport = errors.New("transport error")
	// ErrProtocol covers malformed or unexpected responses, including rejected
	// credentials. Retrying without intervention will not help.
	ErrProtocol = errors.New("protocol error")
	// ErrStaleToken is returned by a future fetch when the daemon no longer
	// recognises the continuation token.
	ErrStaleToken = errors.New("continuation token no longer valid")

	ErrDisposed = errors.New("list disposed")
	ErrBusy     = errors.New("fetch in progress")
)

// FetchError wraps a failed past or future query.
type FetchError struct {
	Collection string
	Mode       Mode
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch for %s: %v", e.Mode, e.Collection, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth retrying without intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// classify makes sure deadline and cancellation failures surface as transport errors.
func classify(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) || errors.Is(err, ErrStaleToken) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return err
}
