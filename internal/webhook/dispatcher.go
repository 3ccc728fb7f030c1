package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher delivers webhooks from a background goroutine with bounded
// retries. It is used when no task queue is available.
type Dispatcher struct {
	sender     *Sender
	maxRetries int
	baseDelay  time.Duration
	deliveries chan Delivery
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func NewDispatcher(sender *Sender, maxRetries int) *Dispatcher {
	d := &Dispatcher{
		sender:     sender,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		deliveries: make(chan Delivery, 1000),
		done:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// Notify queues an event for url. It never blocks; a full queue drops the
// delivery with a warning.
func (d *Dispatcher) Notify(_ context.Context, url, event string, data any) error {
	del, err := NewDelivery(url, event, data)
	if err != nil {
		return err
	}
	select {
	case <-d.done:
		return fmt.Errorf("notify %s: dispatcher closed", event)
	default:
	}
	select {
	case d.deliveries <- del:
		return nil
	default:
		slog.Warn("webhook delivery queue full, dropping", "delivery_id", del.ID, "event", event)
		return nil
	}
}

// Close stops accepting deliveries and waits for queued ones to finish or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for {
		select {
		case del := <-d.deliveries:
			d.deliver(del)
		case <-d.done:
			for {
				select {
				case del := <-d.deliveries:
					d.deliver(del)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(del Delivery) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.sender.client.Timeout+5*time.Second)
		err := d.sender.Send(ctx, del)
		cancel()
		if err == nil {
			slog.Info("webhook delivered", "delivery_id", del.ID, "event", del.Event, "attempts", attempt+1)
			return
		}
		if errors.Is(err, ErrPermanent) || attempt >= d.maxRetries {
			slog.Error("webhook delivery failed", "delivery_id", del.ID, "event", del.Event, "attempts", attempt+1, "error", err)
			return
		}
		select {
		case <-time.After(d.baseDelay << attempt):
		case <-d.done:
			slog.Warn("webhook delivery abandoned on shutdown", "delivery_id", del.ID, "error", err)
			return
		}
	}
}
