package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"linkrelay/internal/resolver"
	"linkrelay/internal/storage"
	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
)

const (
	testLink  = "https://vt.tiktok.com/ZSabc/"
	testVideo = "https://cdn.example/v.mp4"
	testAudio = "https://cdn.example/a.mp3"
	adminID   = int64(1)
)

type harness struct {
	svc   *Service
	tx    *fakeTx
	res   *fakeResolver
	store storage.Store

	mu     sync.Mutex
	clock  time.Time
	timers []timer
	// holdJobs parks background jobs in jobs instead of running them inline.
	holdJobs bool
	jobs     []func(context.Context)
}

type timer struct {
	d  time.Duration
	fn func()
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func (h *harness) fireTimers() {
	h.mu.Lock()
	ts := h.timers
	h.timers = nil
	h.mu.Unlock()
	for _, t := range ts {
		t.fn()
	}
}

func (h *harness) spawn(_ string, fn func(context.Context)) {
	h.mu.Lock()
	if h.holdJobs {
		h.jobs = append(h.jobs, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn(context.Background())
}

func (h *harness) runJobs() {
	h.mu.Lock()
	js := h.jobs
	h.jobs = nil
	h.mu.Unlock()
	for _, fn := range js {
		fn(context.Background())
	}
}

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	m, err := resolver.NewMatcher([]resolver.Pattern{{Category: "tiktok", Match: `tiktok\.com`}})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	h := &harness{
		tx:    newFakeTx(),
		res:   &fakeResolver{res: resolver.Result{Kind: resolver.KindVideo, Video: testVideo, Audio: testAudio, Caption: "title"}},
		store: store,
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := New(Deps{
		Transport: h.tx,
		Store:     store,
		Resolver:  h.res,
		Matcher:   m,
		Admins:    NewAdminSet([]int64{adminID}),
		Logger:    logx.Nop(),
		Now:       h.now,
		AfterFunc: func(d time.Duration, fn func()) {
			h.mu.Lock()
			h.timers = append(h.timers, timer{d: d, fn: fn})
			h.mu.Unlock()
		},
		Go: h.spawn,
	}, Options{
		Categories: []string{"tiktok"},
		Dispatch:   []DispatcherOption{noSleep(nil)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

func textMsg(id int, chat, from int64, text string) *transport.Message {
	return &transport.Message{ID: id, ChatID: chat, FromID: from, Payload: transport.TextPayload(text)}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func TestVideoThenAudioCallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.svc.HandleMessage(ctx, textMsg(5, 7, 7, testLink)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := h.tx.ops(); !slices.Equal(got, []string{"text", "video", "delete"}) {
		t.Fatalf("ops = %v", got)
	}
	waiting := h.tx.find("text")[0]
	if !strings.Contains(waiting.Text, "Sedang diproses") || waiting.Opt.ParseMode != "HTML" {
		t.Fatalf("waiting indicator = %+v", waiting)
	}
	if del := h.tx.find("delete")[0]; del.MsgID != waiting.MsgID {
		t.Fatalf("deleted %d, want waiting indicator %d", del.MsgID, waiting.MsgID)
	}
	video := h.tx.find("video")[0]
	if video.Ref != testVideo || video.Chat != 7 {
		t.Fatalf("video = %+v", video)
	}
	if !strings.Contains(video.Opt.Caption, "@iniuntukdonlotvidiotiktokbot") {
		t.Fatalf("caption = %q", video.Opt.Caption)
	}
	key := AudioKey(7, 5)
	if want := []transport.Button{{Text: "MUSIK", Data: key}}; !slices.Equal(video.Opt.Buttons, want) {
		t.Fatalf("buttons = %+v, want %+v", video.Opt.Buttons, want)
	}
	if len(key) > 64 {
		t.Fatalf("callback data %q exceeds 64 bytes", key)
	}

	link, err := h.store.GetAudioLink(ctx, key)
	if err != nil || link.AudioRef != testAudio || link.MessageID != video.MsgID {
		t.Fatalf("audio link = %+v, %v", link, err)
	}
	if n, _ := h.store.CountRequestsSince(ctx, "tiktok", h.now().Add(-time.Hour)); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}

	h.tx.reset()
	out, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q1", FromID: 7, ChatID: 7, MessageID: video.MsgID, Data: key})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got := h.tx.ops(); !slices.Equal(got, []string{"audio", "edit", "answer"}) {
		t.Fatalf("callback ops = %v", got)
	}
	if a := h.tx.find("audio")[0]; a.Ref != testAudio || a.Chat != 7 {
		t.Fatalf("audio = %+v", a)
	}
	edit := h.tx.find("edit")[0]
	if edit.MsgID != video.MsgID || !slices.Equal(edit.Buttons, []transport.Button{{Text: "LINK MUSIK", URL: testAudio}}) {
		t.Fatalf("edit = %+v", edit)
	}
	if !out.Found || !out.Sent || !out.Edited || out.SourceDeleted {
		t.Fatalf("outcome = %+v", out)
	}

	// The entry is not consumed; a second press sends again.
	if _, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q2", ChatID: 7, MessageID: video.MsgID, Data: key}); err != nil {
		t.Fatalf("second press: %v", err)
	}
	if n := len(h.tx.find("audio")); n != 2 {
		t.Fatalf("audio sends = %d, want 2", n)
	}
}

func TestCallbackDeletesForeignSource(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.store.PutAudioLink(ctx, storage.AudioLink{Key: "audio-7-5", AudioRef: testAudio, ChatID: 7, MessageID: 50}); err != nil {
		t.Fatal(err)
	}
	out, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q", ChatID: 7, MessageID: 60, Data: "audio-7-5"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	del := h.tx.find("delete")
	if len(del) != 1 || del[0].MsgID != 60 || !out.SourceDeleted {
		t.Fatalf("deletes = %+v, outcome = %+v", del, out)
	}
}

func TestCacheIdempotence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.svc.HandleMessage(ctx, textMsg(10+i, 7, 7, testLink)); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if h.res.Calls() != 1 {
		t.Fatalf("resolver calls = %d, want 1", h.res.Calls())
	}
	if n := len(h.tx.find("video")); n != 3 {
		t.Fatalf("videos = %d, want 3", n)
	}
	// Cache hits are not counted as requests.
	if n, _ := h.store.CountRequestsSince(ctx, "tiktok", time.Time{}); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}
}

func TestSlideResolution(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	images := make([]string, 23)
	for i := range images {
		images[i] = fmt.Sprintf("https://cdn.example/%d.jpg", i)
	}
	h.res.res = resolver.Result{Kind: resolver.KindSlide, Images: images, Audio: testAudio}

	if err := h.svc.HandleMessage(ctx, textMsg(5, 7, 7, testLink)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	groups := h.tx.find("group")
	if len(groups) != 3 || len(h.tx.find("video")) != 0 {
		t.Fatalf("ops = %v", h.tx.ops())
	}
	if groups[0].Items[0].Caption == "" || groups[1].Items[0].Caption != "" {
		t.Fatal("caption must be on the first slide only")
	}
	cached, err := h.store.LookupResolution(ctx, testLink)
	if err != nil || len(cached.Slides) != 23 || cached.MediaRef != "" {
		t.Fatalf("cached = %+v, %v", cached, err)
	}
	if _, err := h.store.GetAudioLink(ctx, AudioKey(7, 5)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("slides must not register an audio link, got %v", err)
	}
}

func TestVideoWithoutAudioHasNoButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.res.res = resolver.Result{Kind: resolver.KindVideo, Video: testVideo}
	if err := h.svc.HandleMessage(context.Background(), textMsg(5, 7, 7, testLink)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if b := h.tx.find("video")[0].Opt.Buttons; len(b) != 0 {
		t.Fatalf("buttons = %+v, want none", b)
	}
}

func TestLinkFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		link     string
		setup    func(h *harness)
		store    func() *faultyStore
		wantErr  error
		wantText string
		resolved int
	}{
		{
			name:     "unsupported",
			link:     "https://youtube.com/watch?v=1",
			wantErr:  ErrUnsupportedLink,
			wantText: "⚠️ Error: ❌ Link tidak dikenali. Hanya mendukung TikTok.",
		},
		{
			name:     "resolution",
			link:     testLink,
			setup:    func(h *harness) { h.res.err = errors.New("upstream 502") },
			wantErr:  ErrResolution,
			wantText: "⚠️ Error: ❌ Gagal memproses link TikTok.",
			resolved: 1,
		},
		{
			name:     "cache lookup",
			link:     testLink,
			store:    func() *faultyStore { return &faultyStore{Store: storage.NewMemory(), lookupErr: errors.New("db down")} },
			wantErr:  ErrCacheAccess,
			wantText: textCacheFailed,
		},
		{
			name: "delivery",
			link: testLink,
			setup: func(h *harness) {
				h.tx.fail = func(c call) bool { return c.Op == "video" }
			},
			wantErr:  ErrDelivery,
			wantText: "⚠️ Error: ❌ Gagal mengirim media.",
			resolved: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var store storage.Store
			if tt.store != nil {
				store = tt.store()
			}
			h := newHarness(t, store)
			if tt.setup != nil {
				tt.setup(h)
			}
			err := h.svc.HandleMessage(context.Background(), textMsg(5, 7, 7, tt.link))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			texts := h.tx.find("text")
			if len(texts) != 2 || texts[1].Text != tt.wantText {
				t.Fatalf("texts = %+v, want error %q", texts, tt.wantText)
			}
			if del := h.tx.find("delete"); len(del) != 1 || del[0].MsgID != texts[0].MsgID {
				t.Fatalf("waiting indicator not removed: %v", h.tx.ops())
			}
			if h.res.Calls() != tt.resolved {
				t.Fatalf("resolver calls = %d, want %d", h.res.Calls(), tt.resolved)
			}
			if _, err := h.store.LookupResolution(context.Background(), tt.link); err == nil {
				t.Fatal("failed link must not be cached")
			}
		})
	}
}

func TestStoreFailureDoesNotFailDelivery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &faultyStore{Store: storage.NewMemory(), storeErr: errors.New("disk full")})
	if err := h.svc.HandleMessage(context.Background(), textMsg(5, 7, 7, testLink)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(h.tx.find("video")) != 1 || len(h.tx.find("text")) != 1 {
		t.Fatalf("ops = %v", h.tx.ops())
	}
}

func TestAudioCallbackFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		out, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q", ChatID: 7, Data: "audio-7-404"})
		if !errors.Is(err, ErrNotFound) || out.Found {
			t.Fatalf("err = %v, outcome = %+v", err, out)
		}
		ans := h.tx.find("answer")
		if len(ans) != 1 || ans[0].Text != textAudioNotFound || !ans[0].Alert {
			t.Fatalf("answers = %+v", ans)
		}
	})

	t.Run("access", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, &faultyStore{Store: storage.NewMemory(), audioErr: errors.New("timeout")})
		_, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q", ChatID: 7, Data: "audio-7-5"})
		if !errors.Is(err, ErrCacheAccess) {
			t.Fatalf("err = %v", err)
		}
		if ans := h.tx.find("answer"); len(ans) != 1 || ans[0].Text != textGenericError {
			t.Fatalf("answers = %+v", ans)
		}
	})

	t.Run("send", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		if err := h.store.PutAudioLink(ctx, storage.AudioLink{Key: "audio-7-5", AudioRef: testAudio, ChatID: 7, MessageID: 50}); err != nil {
			t.Fatal(err)
		}
		h.tx.fail = func(c call) bool { return c.Op == "audio" }
		out, err := h.svc.HandleCallback(ctx, &transport.Callback{ID: "q", ChatID: 7, MessageID: 50, Data: "audio-7-5"})
		if !errors.Is(err, ErrDelivery) || out.Sent {
			t.Fatalf("err = %v, outcome = %+v", err, out)
		}
		if texts := h.tx.find("text"); len(texts) != 1 || texts[0].Text != textAudioSendFailed {
			t.Fatalf("texts = %+v", texts)
		}
		if len(h.tx.find("edit")) != 0 {
			t.Fatal("button must stay when audio was not sent")
		}
	})
}

func TestMenuIsRemovedAfterTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if err := h.svc.HandleMessage(context.Background(), textMsg(5, 7, 7, "halo")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	menu := h.tx.find("text")
	if len(menu) != 1 || !strings.Contains(menu[0].Text, "BOT ONLINE") || !strings.Contains(menu[0].Text, "TikTok") {
		t.Fatalf("menu = %+v", menu)
	}
	if len(h.timers) != 1 || h.timers[0].d != DefaultMenuTTL {
		t.Fatalf("timers = %+v", h.timers)
	}
	if len(h.tx.find("delete")) != 0 {
		t.Fatal("nothing may be deleted before the TTL")
	}
	h.fireTimers()
	var deleted []int
	for _, c := range h.tx.find("delete") {
		deleted = append(deleted, c.MsgID)
	}
	if !slices.Equal(deleted, []int{menu[0].MsgID, 5}) {
		t.Fatalf("deleted = %v", deleted)
	}
	if h.res.Calls() != 0 {
		t.Fatal("plain text must not be resolved")
	}
}

func TestAdminCommandsRejectNonAdmins(t *testing.T) {
	t.Parallel()
	for _, cmd := range []string{"/broadcast", "/stats", "/cancel", "/STATS@linkrelay_bot"} {
		h := newHarness(t, nil)
		if err := h.svc.HandleMessage(context.Background(), textMsg(5, 2, 2, cmd)); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		texts := h.tx.find("text")
		if len(texts) != 1 || texts[0].Text != textAdminOnly {
			t.Fatalf("%s: texts = %+v", cmd, texts)
		}
		if h.svc.Sessions().Get(2) != Idle {
			t.Fatalf("%s: non-admin got a session", cmd)
		}
	}
}

func TestBroadcastFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, id := range []int64{10, 11, 12} {
		if err := h.store.SaveUser(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.svc.HandleMessage(ctx, textMsg(1, adminID, adminID, "/broadcast")); err != nil {
		t.Fatalf("/broadcast: %v", err)
	}
	if h.svc.Sessions().Get(adminID) != AwaitingBroadcastPayload {
		t.Fatal("admin should be awaiting a payload")
	}
	if texts := h.tx.find("text"); len(texts) != 1 || texts[0].Text != textBroadcastPrompt {
		t.Fatalf("prompt = %+v", texts)
	}

	// Another user's traffic does not touch the admin session.
	if err := h.svc.HandleMessage(ctx, textMsg(2, 12, 12, testLink)); err != nil {
		t.Fatalf("user link: %v", err)
	}
	if h.svc.Sessions().Get(adminID) != AwaitingBroadcastPayload {
		t.Fatal("session changed by another chat")
	}

	h.tx.reset()
	h.tx.fail = func(c call) bool { return c.Op == "photo" && c.Chat == 11 }
	photo := &transport.Message{ID: 3, ChatID: adminID, FromID: adminID, Payload: transport.MediaPayload(transport.PayloadPhoto, "file-1", "promo")}
	if err := h.svc.HandleMessage(ctx, photo); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if h.svc.Sessions().Get(adminID) != Idle {
		t.Fatal("session should be idle after the broadcast")
	}

	var photos []int64
	for _, c := range h.tx.find("photo") {
		if c.Ref != "file-1" || c.Opt.Caption != "promo" {
			t.Fatalf("replayed photo = %+v", c)
		}
		photos = append(photos, c.Chat)
	}
	if !slices.Equal(photos, []int64{1, 10, 12}) {
		t.Fatalf("delivered to %v", photos)
	}
	if n := len(h.tx.find("pin")); n != 3 {
		t.Fatalf("pins = %d, want 3", n)
	}
	texts := h.tx.find("text")
	if len(texts) != 1 || texts[0].Chat != adminID || !strings.Contains(texts[0].Text, "3/4") {
		t.Fatalf("summary = %+v", texts)
	}

	// A later message is ordinary traffic again.
	h.tx.reset()
	if err := h.svc.HandleMessage(ctx, textMsg(4, adminID, adminID, "halo")); err != nil {
		t.Fatal(err)
	}
	if len(h.tx.find("photo")) != 0 || len(h.tx.find("pin")) != 0 {
		t.Fatal("second message must not be broadcast")
	}
}

func TestBroadcastCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.svc.HandleMessage(ctx, textMsg(1, adminID, adminID, "/cancel")); err != nil {
		t.Fatal(err)
	}
	if texts := h.tx.find("text"); texts[len(texts)-1].Text != textNothingToCancel {
		t.Fatalf("texts = %+v", texts)
	}

	_ = h.svc.HandleMessage(ctx, textMsg(2, adminID, adminID, "/broadcast"))
	h.tx.reset()
	if err := h.svc.HandleMessage(ctx, textMsg(3, adminID, adminID, "/cancel")); err != nil {
		t.Fatal(err)
	}
	if h.svc.Sessions().Get(adminID) != Idle {
		t.Fatal("cancel should clear the session")
	}
	if got := h.tx.ops(); !slices.Equal(got, []string{"text"}) || h.tx.find("text")[0].Text != textBroadcastCancel {
		t.Fatalf("ops = %v", got)
	}
}

func TestBroadcastListUsersFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &faultyStore{Store: storage.NewMemory(), listErr: errors.New("db down")})
	ctx := context.Background()
	_ = h.svc.HandleMessage(ctx, textMsg(1, adminID, adminID, "/broadcast"))
	h.tx.reset()

	if err := h.svc.HandleMessage(ctx, textMsg(2, adminID, adminID, "pengumuman")); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if texts := h.tx.find("text"); len(texts) != 1 || texts[0].Text != textUsersFailed {
		t.Fatalf("texts = %+v", texts)
	}
	if h.svc.Sessions().Get(adminID) != Idle {
		t.Fatal("session should be idle after a failed broadcast")
	}
}

func TestBroadcastRunsOffTheUpdatePath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.holdJobs = true
	ctx := context.Background()
	for _, id := range []int64{10, 11} {
		if err := h.store.SaveUser(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	_ = h.svc.HandleMessage(ctx, textMsg(1, adminID, adminID, "/broadcast"))
	h.tx.reset()

	photo := &transport.Message{ID: 2, ChatID: adminID, FromID: adminID, Payload: transport.MediaPayload(transport.PayloadPhoto, "file-1", "promo")}
	if err := h.svc.HandleMessage(ctx, photo); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if h.svc.Sessions().Get(adminID) != Idle {
		t.Fatal("session should be idle once the broadcast is started")
	}
	if n := len(h.tx.find("photo")); n != 0 {
		t.Fatalf("photos sent before the job ran: %d", n)
	}

	// Other chats are served while the broadcast is pending.
	if err := h.svc.HandleMessage(ctx, textMsg(3, 10, 10, testLink)); err != nil {
		t.Fatalf("user link: %v", err)
	}
	if n := len(h.tx.find("video")); n != 1 {
		t.Fatalf("videos = %d, want 1", n)
	}

	h.runJobs()
	var photos []int64
	for _, c := range h.tx.find("photo") {
		photos = append(photos, c.Chat)
	}
	if !slices.Equal(photos, []int64{1, 10, 11}) {
		t.Fatalf("delivered to %v", photos)
	}
	var summary bool
	for _, c := range h.tx.find("text") {
		if c.Chat == adminID && strings.Contains(c.Text, "3/3") {
			summary = true
		}
	}
	if !summary {
		t.Fatalf("no summary in %+v", h.tx.find("text"))
	}
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.now()
	for _, at := range []time.Time{now, now.Add(-24 * time.Hour), now.Add(-6 * 24 * time.Hour), now.Add(-8 * 24 * time.Hour)} {
		if err := h.store.AppendRequest(ctx, "tiktok", at); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.SaveUser(ctx, 42); err != nil {
		t.Fatal(err)
	}
	h.advance(26*time.Hour + 5*time.Minute)

	if err := h.svc.HandleMessage(ctx, textMsg(1, adminID, adminID, "/stats")); err != nil {
		t.Fatalf("/stats: %v", err)
	}
	// The 6-day-old request falls out of the window once the clock moves on by 26h.
	want := "<pre>✨STATISTIK BOT✨\n" +
		"🧽 7 HARI\n" +
		statsRule + "\n" +
		"🀄️ Total User     : 2\n" +
		"💌 Request TikTok : 2\n" +
		"⌚️ Uptime         : 26 jam 5 menit</pre>"
	texts := h.tx.find("text")
	if len(texts) != 1 || texts[0].Text != want || texts[0].Opt.ParseMode != "HTML" {
		t.Fatalf("stats =\n%s\nwant\n%s", texts[0].Text, want)
	}
}

func TestSendDigest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.svc.Admins().Replace([]int64{1, 2})
	h.tx.fail = func(c call) bool { return c.Chat == 2 }
	sent, err := h.svc.SendDigest(context.Background())
	if sent != 1 || err == nil {
		t.Fatalf("sent = %d, err = %v", sent, err)
	}
}

func TestFormatUptime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 jam 0 menit"},
		{59 * time.Second, "0 jam 0 menit"},
		{90 * time.Minute, "1 jam 30 menit"},
		{49*time.Hour + 59*time.Minute + 59*time.Second, "49 jam 59 menit"},
		{-time.Minute, "0 jam 0 menit"},
	}
	for _, tt := range tests {
		if got := FormatUptime(tt.d); got != tt.want {
			t.Fatalf("FormatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		ok   bool
	}{
		{"/stats", "stats", true},
		{"  /Broadcast now", "broadcast", true},
		{"/cancel@linkrelay_bot", "cancel", true},
		{"hello", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		name, ok := parseCommand(tt.in)
		if name != tt.name || ok != tt.ok {
			t.Fatalf("parseCommand(%q) = %q, %v", tt.in, name, ok)
		}
	}
}
