package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
)

func photos(n int) []transport.MediaItem {
	out := make([]transport.MediaItem, n)
	for i := range out {
		out[i] = transport.MediaItem{Kind: transport.MediaPhoto, Ref: fmt.Sprintf("https://i/%d.jpg", i+1)}
	}
	return out
}

func TestPartitionLaw(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 9, 10, 11, 20, 23, 100} {
		n := n
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()
			items := make([]int, n)
			for i := range items {
				items[i] = i
			}
			batches := Partition(items, MaxBatchSize)
			if want := (n + MaxBatchSize - 1) / MaxBatchSize; len(batches) != want {
				t.Fatalf("batches = %d, want %d", len(batches), want)
			}
			var joined []int
			for _, b := range batches {
				if len(b) == 0 || len(b) > MaxBatchSize {
					t.Fatalf("batch size %d out of range", len(b))
				}
				joined = append(joined, b...)
			}
			if !slices.Equal(joined, items) && n > 0 {
				t.Fatalf("concatenation does not reproduce input")
			}
		})
	}
}

func TestPartitionDoesNotAlias(t *testing.T) {
	t.Parallel()
	items := []int{1, 2, 3}
	b := Partition(items, 2)
	b[0] = append(b[0], 99)
	if items[2] != 3 {
		t.Fatalf("appending to a batch overwrote the next item: %v", items)
	}
}

func TestDispatchSlideScenario(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()
	var slept []time.Duration
	d := NewDispatcher(tx, logx.Nop(), nil, noSleep(&slept))

	rep, err := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 7}, photos(23), "cap")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	groups := tx.find("group")
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	for i, want := range []int{10, 10, 3} {
		if len(groups[i].Items) != want {
			t.Fatalf("batch %d size = %d, want %d", i, len(groups[i].Items), want)
		}
	}
	captions := 0
	for bi, g := range groups {
		for ii, it := range g.Items {
			if it.Caption == "" {
				continue
			}
			captions++
			if bi != 0 || ii != 0 || it.Caption != "cap" {
				t.Fatalf("caption on batch %d item %d", bi, ii)
			}
		}
	}
	if captions != 1 {
		t.Fatalf("captions = %d, want 1", captions)
	}
	if groups[0].Items[0].Ref != "https://i/1.jpg" || groups[2].Items[2].Ref != "https://i/23.jpg" {
		t.Fatalf("order not preserved")
	}
	if !slices.Equal(slept, []time.Duration{time.Second, time.Second}) {
		t.Fatalf("delays = %v, want two 1s waits between batches", slept)
	}
	if rep.Batches != 3 || rep.GroupedOK != 3 || rep.ItemsSent != 23 || rep.ItemsFailed != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDispatchBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n       int
		batches int
	}{{1, 1}, {10, 1}, {11, 2}}
	for _, tt := range tests {
		tx := newFakeTx()
		d := NewDispatcher(tx, logx.Nop(), nil, noSleep(nil))
		rep, err := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 1}, photos(tt.n), "")
		if err != nil {
			t.Fatalf("n=%d: %v", tt.n, err)
		}
		if rep.Batches != tt.batches || len(tx.find("group")) != tt.batches {
			t.Fatalf("n=%d: batches = %d, want %d", tt.n, rep.Batches, tt.batches)
		}
	}
}

func TestDispatchEmpty(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()
	d := NewDispatcher(tx, logx.Nop(), nil, noSleep(nil))
	_, err := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 1}, nil, "cap")
	if !errors.Is(err, ErrEmptyMedia) {
		t.Fatalf("err = %v, want ErrEmptyMedia", err)
	}
	if len(tx.ops()) != 0 {
		t.Fatalf("no transport calls expected, got %v", tx.ops())
	}
}

func TestDispatchFallbackIsBestEffort(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()
	groupCalls := 0
	tx.fail = func(c call) bool {
		if c.Op == "group" {
			groupCalls++
			return groupCalls == 1
		}
		return c.Op == "photo" && c.Ref == "https://i/3.jpg"
	}
	d := NewDispatcher(tx, logx.Nop(), nil, noSleep(nil))
	rep, err := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 1}, photos(12), "cap")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rep.FallbackBatches != 1 || rep.GroupedOK != 1 || rep.ItemsFailed != 1 || rep.ItemsSent != 11 {
		t.Fatalf("report = %+v", rep)
	}
	sent := tx.find("photo")
	if len(sent) != 9 {
		t.Fatalf("fallback photos sent = %d, want 9", len(sent))
	}
	if sent[0].Opt.Caption != "cap" || sent[1].Opt.Caption != "" {
		t.Fatalf("fallback must keep the caption on the first item only")
	}
	if !rep.Delivered() {
		t.Fatal("report should count as delivered")
	}
}

func TestDispatchStopsOnCancelBetweenBatches(t *testing.T) {
	t.Parallel()
	tx := newFakeTx()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(tx, logx.Nop(), nil, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	rep, err := d.Dispatch(ctx, transport.ChatTarget{ChatID: 1}, photos(25), "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Batches != 1 || len(tx.find("group")) != 1 {
		t.Fatalf("expected exactly one batch before cancel, report = %+v", rep)
	}
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := sleepCtx(context.Background(), 0); err != nil {
		t.Fatalf("zero delay: %v", err)
	}
}
