package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// errStreamStalled is the cancellation cause when a provider goes quiet.
var errStreamStalled = errors.New("stream stalled")

// drainWait bounds how long Drain keeps reading an abandoned stream.
const drainWait = 10 * time.Second

// Drain discards the rest of ch in the background so a provider blocked on
// send can exit. It stops when ch closes or after drainWait.
func Drain(ch <-chan StreamChunk) {
	go func() {
		t := time.NewTimer(drainWait)
		defer t.Stop()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-t.C:
				return
			}
		}
	}()
}

// openBounded opens a stream with open and limits both the open call and every
// gap between chunks to idle. A stalled open fails with ErrTransient; a stall
// after opening cancels the provider and ends the stream with a transient
// error chunk. idle <= 0 leaves the stream unbounded.
func openBounded(ctx context.Context, idle time.Duration, open func(context.Context) (<-chan StreamChunk, error)) (<-chan StreamChunk, error) {
	if idle <= 0 {
		return open(ctx)
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	openTimer := time.AfterFunc(idle, func() { cancel(errStreamStalled) })
	in, err := open(streamCtx)
	stalled := !openTimer.Stop()

	if err != nil {
		cancel(nil)
		if stalled {
			return nil, fmt.Errorf("%w: open %w after %s", ErrTransient, errStreamStalled, idle)
		}
		return nil, err
	}
	if stalled {
		cancel(nil)
		Drain(in)
		return nil, fmt.Errorf("%w: open %w after %s", ErrTransient, errStreamStalled, idle)
	}

	out := make(chan StreamChunk)
	go relayBounded(ctx, streamCtx, cancel, idle, in, out)
	return out, nil
}

func relayBounded(parent, ctx context.Context, cancel context.CancelCauseFunc, idle time.Duration, in <-chan StreamChunk, out chan<- StreamChunk) {
	defer close(out)
	defer cancel(nil)

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return
			}
			if !sendChunk(ctx, out, chunk) {
				Drain(in)
				return
			}
			timer.Reset(idle)
		case <-timer.C:
			cancel(errStreamStalled)
			Drain(in)
			sendChunk(parent, out, StreamChunk{
				Error: fmt.Errorf("%w: no chunk for %s: %w", ErrTransient, idle, errStreamStalled),
				Done:  true,
			})
			return
		case <-ctx.Done():
			Drain(in)
			return
		}
	}
}
