package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestIsConnectionReset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errTest, false},
		{"econnreset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"epipe", syscall.EPIPE, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true},
		{"message only", errors.New("read tcp 1.2.3.4:443: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsConnectionReset(tt.err); got != tt.want {
				t.Errorf("IsConnectionReset(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"success first", []error{nil}, 1, nil},
		{"reset then success", []error{syscall.ECONNRESET, nil}, 2, nil},
		{"reset twice", []error{syscall.ECONNRESET, syscall.ECONNRESET}, 2, syscall.ECONNRESET},
		{"non retryable", []error{errTest}, 1, errTest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			got, err := RetryOnce(context.Background(), time.Millisecond, nil, func(context.Context) (int, error) {
				e := tt.errs[calls]
				calls++
				if e != nil {
					return 0, e
				}
				return 7, nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != 7 {
				t.Fatalf("got (%d, %v), want (7, nil)", got, err)
			}
		})
	}
}

func TestRetryOnce_CancelledDuringDelay(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := RetryOnce(ctx, time.Hour, nil, func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, syscall.ECONNRESET
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RetryOnce did not return after cancel")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryOnce_CustomClassifier(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := RetryOnce(context.Background(), time.Millisecond,
		func(err error) bool { return errors.Is(err, errTest) },
		func(context.Context) (string, error) {
			calls++
			return "", errTest
		})
	if !errors.Is(err, errTest) || calls != 2 {
		t.Fatalf("err = %v calls = %d, want errTest and 2", err, calls)
	}
}
