package relay

import (
	"context"
	"time"

	"linkrelay/internal/eventbus"
	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
)

const (
	// MaxBatchSize is the platform ceiling for one media group.
	MaxBatchSize      = 10
	DefaultBatchDelay = time.Second
)

// Partition splits items into consecutive batches of at most size items, in order.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = MaxBatchSize
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// DispatchReport is the outcome of one Dispatch. Per-item failures are counted, not returned.
type DispatchReport struct {
	Batches         int
	GroupedOK       int
	FallbackBatches int
	ItemsSent       int
	ItemsFailed     int
}

// Delivered reports whether at least one item reached the chat.
func (r DispatchReport) Delivered() bool { return r.ItemsSent > 0 }

type Dispatcher struct {
	tx    transport.Adapter
	size  int
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	log   logx.Logger
	bus   eventbus.Bus
}

type DispatcherOption func(*Dispatcher)

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 && n <= MaxBatchSize {
			d.size = n
		}
	}
}

func WithBatchDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithSleep replaces the inter-batch wait; tests use it to avoid real sleeps.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = fn }
}

func NewDispatcher(tx transport.Adapter, log logx.Logger, bus eventbus.Bus, opts ...DispatcherOption) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		tx:    tx,
		size:  MaxBatchSize,
		delay: DefaultBatchDelay,
		sleep: sleepCtx,
		log:   log.With(logx.String("comp", "dispatcher")),
		bus:   bus,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch delivers items in batches. caption goes on the first item only; any
// captions already on items are dropped. A failed batch falls back to per-item sends.
// The only errors are ErrEmptyMedia and ctx cancellation during the inter-batch wait.
func (d *Dispatcher) Dispatch(ctx context.Context, to transport.ChatTarget, items []transport.MediaItem, caption string) (DispatchReport, error) {
	var rep DispatchReport
	if len(items) == 0 {
		return rep, ErrEmptyMedia
	}
	prepared := make([]transport.MediaItem, len(items))
	copy(prepared, items)
	for i := range prepared {
		prepared[i].Caption = ""
	}
	prepared[0].Caption = caption

	batches := Partition(prepared, d.size)
	opt := &transport.SendOptions{ParseMode: parseModeHTML}
	for i, batch := range batches {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return rep, err
			}
		}
		rep.Batches++

		_, err := d.tx.SendMediaGroup(ctx, to, batch, opt)
		if err == nil {
			rep.GroupedOK++
			rep.ItemsSent += len(batch)
			eventbus.Emit(d.bus, "dispatch.batch", "chat_id", to.ChatID, "batch", i, "size", len(batch), "grouped", true)
			continue
		}
		d.log.Warn("media group failed; sending items one by one",
			logx.Int64("chat_id", to.ChatID), logx.Int("batch", i), logx.Int("size", len(batch)), logx.Err(err))

		rep.FallbackBatches++
		sent := d.sendEach(ctx, to, batch)
		rep.ItemsSent += sent
		rep.ItemsFailed += len(batch) - sent
		eventbus.Emit(d.bus, "dispatch.batch", "chat_id", to.ChatID, "batch", i, "size", len(batch), "grouped", false, "sent", sent)
	}
	return rep, nil
}

// sendEach sends a batch item by item and returns how many succeeded.
func (d *Dispatcher) sendEach(ctx context.Context, to transport.ChatTarget, batch []transport.MediaItem) int {
	sent := 0
	for _, it := range batch {
		opt := &transport.SendOptions{ParseMode: parseModeHTML, Caption: it.Caption}
		var err error
		switch it.Kind {
		case transport.MediaVideo:
			_, err = d.tx.SendVideo(ctx, to, it.Ref, opt)
		default:
			_, err = d.tx.SendPhoto(ctx, to, it.Ref, opt)
		}
		if err != nil {
			d.log.Warn("media item failed", logx.Int64("chat_id", to.ChatID), logx.String("ref", it.Ref), logx.Err(err))
			continue
		}
		sent++
	}
	return sent
}
