package relay

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"linkrelay/internal/resolver"
	"linkrelay/internal/storage"
	"linkrelay/internal/transport"
)

var errSend = errors.New("send failed")

type call struct {
	Op      string
	Chat    int64
	MsgID   int // message id returned, or the target of delete/pin/edit
	Text    string
	Ref     string
	Opt     transport.SendOptions
	Items   []transport.MediaItem
	Buttons []transport.Button
	Alert   bool
}

// fakeTx records every transport call. fail decides per call whether it errors.
type fakeTx struct {
	mu     sync.Mutex
	nextID int
	calls  []call
	fail   func(c call) bool
}

func newFakeTx() *fakeTx { return &fakeTx{nextID: 100} }

func (f *fakeTx) record(c call) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil && f.fail(c) {
		c.Op = "!" + c.Op
		f.calls = append(f.calls, c)
		return transport.MessageRef{}, errSend
	}
	if c.MsgID == 0 {
		f.nextID++
		c.MsgID = f.nextID
	}
	f.calls = append(f.calls, c)
	return transport.MessageRef{ChatID: c.Chat, MessageID: c.MsgID}, nil
}

func opts(o *transport.SendOptions) transport.SendOptions {
	if o == nil {
		return transport.SendOptions{}
	}
	return *o
}

func (f *fakeTx) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeTx) Stop(ctx context.Context) error                               { return nil }

func (f *fakeTx) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(call{Op: "text", Chat: to.ChatID, Text: text, Opt: opts(opt)})
}

func (f *fakeTx) SendPhoto(ctx context.Context, to transport.ChatTarget, ref string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(call{Op: "photo", Chat: to.ChatID, Ref: ref, Opt: opts(opt)})
}

func (f *fakeTx) SendVideo(ctx context.Context, to transport.ChatTarget, ref string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(call{Op: "video", Chat: to.ChatID, Ref: ref, Opt: opts(opt)})
}

func (f *fakeTx) SendDocument(ctx context.Context, to transport.ChatTarget, ref string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(call{Op: "document", Chat: to.ChatID, Ref: ref, Opt: opts(opt)})
}

func (f *fakeTx) SendAudio(ctx context.Context, to transport.ChatTarget, ref string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(call{Op: "audio", Chat: to.ChatID, Ref: ref, Opt: opts(opt)})
}

func (f *fakeTx) SendMediaGroup(ctx context.Context, to transport.ChatTarget, items []transport.MediaItem, opt *transport.SendOptions) ([]transport.MessageRef, error) {
	ref, err := f.record(call{Op: "group", Chat: to.ChatID, Items: slices.Clone(items), Opt: opts(opt)})
	if err != nil {
		return nil, err
	}
	return []transport.MessageRef{ref}, nil
}

func (f *fakeTx) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	_, err := f.record(call{Op: "delete", Chat: ref.ChatID, MsgID: ref.MessageID})
	return err
}

func (f *fakeTx) PinMessage(ctx context.Context, ref transport.MessageRef) error {
	_, err := f.record(call{Op: "pin", Chat: ref.ChatID, MsgID: ref.MessageID})
	return err
}

func (f *fakeTx) EditButtons(ctx context.Context, ref transport.MessageRef, buttons []transport.Button) error {
	_, err := f.record(call{Op: "edit", Chat: ref.ChatID, MsgID: ref.MessageID, Buttons: slices.Clone(buttons)})
	return err
}

func (f *fakeTx) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	_, err := f.record(call{Op: "answer", Ref: id, Text: text, Alert: alert})
	return err
}

func (f *fakeTx) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Op)
	}
	return out
}

func (f *fakeTx) find(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTx) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	res   resolver.Result
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, link string) (resolver.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return resolver.Result{}, r.err
	}
	res := r.res
	res.Images = slices.Clone(r.res.Images)
	return res, nil
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// faultyStore injects access failures into a real store.
type faultyStore struct {
	storage.Store
	lookupErr error
	storeErr  error
	audioErr  error
	listErr   error
}

func (s *faultyStore) LookupResolution(ctx context.Context, link string) (storage.Resolution, error) {
	if s.lookupErr != nil {
		return storage.Resolution{}, s.lookupErr
	}
	return s.Store.LookupResolution(ctx, link)
}

func (s *faultyStore) StoreResolution(ctx context.Context, r storage.Resolution) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	return s.Store.StoreResolution(ctx, r)
}

func (s *faultyStore) GetAudioLink(ctx context.Context, key string) (storage.AudioLink, error) {
	if s.audioErr != nil {
		return storage.AudioLink{}, s.audioErr
	}
	return s.Store.GetAudioLink(ctx, key)
}

func (s *faultyStore) ListUsers(ctx context.Context) ([]int64, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListUsers(ctx)
}

func noSleep(recorded *[]time.Duration) DispatcherOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		if recorded != nil {
			*recorded = append(*recorded, d)
		}
		return ctx.Err()
	})
}
