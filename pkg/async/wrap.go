package async

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrAble runs fn in its own goroutine. The channel is buffered so the
// goroutine never leaks when nobody is left to receive.
func ErrAble(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
		close(ch)
	}()
	return ch
}

// Within runs fn and waits at most timeout for it. fn receives a context that
// is cancelled when the deadline passes, a zero timeout only follows ctx.
func Within(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	select {
	case err := <-ErrAble(func() error { return fn(ctx) }):
		return err
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}
