package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"
)

// DefaultRetryDelay is the pause before the single retry of [RetryOnce].
const DefaultRetryDelay = 500 * time.Millisecond

// RetryOnce calls fn and, if it fails with an error for which retryable
// reports true, waits delay and calls it exactly once more. A nil retryable
// selects [IsConnectionReset]. The wait is aborted when ctx is done.
func RetryOnce[R any](ctx context.Context, delay time.Duration, retryable func(error) bool, fn func(context.Context) (R, error)) (R, error) {
	if retryable == nil {
		retryable = IsConnectionReset
	}
	res, err := fn(ctx)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return res, err
	}

	slog.Info("retrying after connection reset", "delay", delay, "err", err)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	case <-t.C:
	}
	return fn(ctx)
}

// IsConnectionReset reports whether err looks like the peer dropped the
// connection mid-request: ECONNRESET, EPIPE, an unexpected EOF, or a net
// error carrying a "connection reset" message.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		msg := opErr.Err.Error()
		if strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") {
			return true
		}
	}
	return strings.Contains(err.Error(), "connection reset by peer")
}
