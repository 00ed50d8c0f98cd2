package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/semaphore"
)

// Result of a decode Task.
type Result struct {
	Text string
	Err  error
}

// Task is one decode running on its own goroutine. It produces at most one
// Result; once cancelled, its result is dropped even if the decoder finishes.
type Task struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan Result
	dropped atomic.Bool
}

// StartTask decodes frame in the background. slots bounds concurrent decodes
// across tasks and may be nil. A non-positive timeout disables the deadline.
func StartTask(parent context.Context, dec Decoder, frame []byte, slots *semaphore.Weighted, timeout time.Duration) *Task {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	t := &Task{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan Result, 1),
	}
	go t.run(dec, frame, slots)
	return t
}

func (t *Task) run(dec Decoder, frame []byte, slots *semaphore.Weighted) {
	defer t.cancel()

	var res Result
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: errors.Wrapf(ErrDecodeCrashed, "%v", r)}
		}
		if !t.dropped.Load() {
			t.done <- res
		}
	}()

	if slots != nil {
		if err := slots.Acquire(t.ctx, 1); err != nil {
			res.Err = t.ctxErr(err)
			return
		}
		defer slots.Release(1)
	}

	text, err := dec.Decode(t.ctx, frame)
	if err != nil {
		res.Err = t.ctxErr(err)
		return
	}
	res.Text = text
}

// ctxErr replaces err with ErrDecodeTimeout when the deadline caused it.
func (t *Task) ctxErr(err error) error {
	if errors.Is(t.ctx.Err(), context.DeadlineExceeded) {
		return ErrDecodeTimeout
	}
	return err
}

// Wait returns the result, or an error once the deadline passes or ctx is
// done. The decoder is not required to honour its context.
func (t *Task) Wait(ctx context.Context) Result {
	select {
	case r := <-t.done:
		return r
	case <-t.ctx.Done():
	case <-ctx.Done():
		t.Cancel()
		return Result{Err: ctx.Err()}
	}

	// A result racing the deadline still wins.
	select {
	case r := <-t.done:
		return r
	default:
	}
	t.Cancel()
	return Result{Err: t.ctxErr(t.ctx.Err())}
}

// Cancel drops the result and cancels the decode context.
func (t *Task) Cancel() {
	t.dropped.Store(true)
	t.cancel()
}
