package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastURL atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastURL.Store(r.URL.Query().Get("url"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastURL
}

func TestResolveKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		kind    Kind
		video   string
		images  []string
		audio   string
		wantErr error
	}{
		{
			name:  "video",
			body:  `{"result":{"hdplay":"https://cdn/v.mp4","music":"https://cdn/a.mp3","author":{"id":"6812"}}}`,
			kind:  KindVideo,
			video: "https://cdn/v.mp4",
			audio: "https://cdn/a.mp3",
		},
		{
			name:  "story by author id",
			body:  `{"result":{"hdplay":"https://cdn/s.mp4","author":{"id":"7001"}}}`,
			kind:  KindStory,
			video: "https://cdn/s.mp4",
		},
		{
			name:  "numeric author id",
			body:  `{"result":{"hdplay":"https://cdn/s.mp4","author":{"id":7001}}}`,
			kind:  KindStory,
			video: "https://cdn/s.mp4",
		},
		{
			name:   "slides filter non-http entries",
			body:   `{"result":{"images":["https://i/1.jpg","ftp://x",42,"http://i/2.jpg"],"music":"https://cdn/a.mp3"}}`,
			kind:   KindSlide,
			images: []string{"https://i/1.jpg", "http://i/2.jpg"},
			audio:  "https://cdn/a.mp3",
		},
		{name: "slides all invalid", body: `{"result":{"images":["nope"]}}`, wantErr: ErrNoMedia},
		{name: "missing result", body: `{"code":-1}`, wantErr: ErrNoMedia},
		{name: "video without hdplay", body: `{"result":{"music":"https://a"}}`, wantErr: ErrNoMedia},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := serve(t, http.StatusOK, tt.body)
			c := NewClient(Options{Endpoint: srv.URL + "/?url="})
			res, err := c.Resolve(context.Background(), "https://vt.tiktok.com/x")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, res.Kind)
			require.Equal(t, tt.video, res.Video)
			require.Equal(t, tt.audio, res.Audio)
			require.Equal(t, tt.images, res.Images)
		})
	}
}

func TestResolveKeepsAllSlides(t *testing.T) {
	t.Parallel()
	body := `{"result":{"images":[`
	for i := 0; i < 23; i++ {
		if i > 0 {
			body += ","
		}
		body += `"https://i/x.jpg"`
	}
	body += `]}}`
	srv, _ := serve(t, http.StatusOK, body)
	res, err := NewClient(Options{Endpoint: srv.URL + "/?url="}).Resolve(context.Background(), "https://tiktok.com/a")
	require.NoError(t, err)
	require.Len(t, res.Images, 23)
}

func TestResolveEscapesLink(t *testing.T) {
	t.Parallel()
	srv, last := serve(t, http.StatusOK, `{"result":{"hdplay":"https://v"}}`)
	link := "https://www.tiktok.com/@user/video/1?lang=en&x=1"
	_, err := NewClient(Options{Endpoint: srv.URL + "/?url="}).Resolve(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, link, last.Load())
}

func TestResolveHTTPError(t *testing.T) {
	t.Parallel()
	srv, _ := serve(t, http.StatusBadGateway, `bad gateway`)
	_, err := NewClient(Options{Endpoint: srv.URL + "/?url="}).Resolve(context.Background(), "https://tiktok.com/a")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestResolveMalformedJSON(t *testing.T) {
	t.Parallel()
	srv, _ := serve(t, http.StatusOK, `{"result":`)
	_, err := NewClient(Options{Endpoint: srv.URL + "/?url="}).Resolve(context.Background(), "https://tiktok.com/a")
	require.Error(t, err)
}

func TestSettleDelayHonorsContext(t *testing.T) {
	t.Parallel()
	srv, _ := serve(t, http.StatusOK, `{"result":{"hdplay":"https://v"}}`)
	c := NewClient(Options{Endpoint: srv.URL + "/?url=", SettleDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Resolve(ctx, "https://tiktok.com/a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMatcher(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Pattern{{Category: "tiktok", Match: `tiktok\.com`}})
	require.NoError(t, err)

	cat, ok := m.Match("https://vt.tiktok.com/ZS123/")
	require.True(t, ok)
	require.Equal(t, "tiktok", cat)

	_, err = m.Category("https://youtube.com/watch?v=1")
	require.ErrorIs(t, err, ErrUnsupportedLink)

	_, err = NewMatcher([]Pattern{{Category: "bad", Match: "("}})
	require.Error(t, err)

	multi, err := NewMatcher([]Pattern{
		{Category: "tiktok", Match: `vt\.tiktok\.com`},
		{Category: "tiktok", Match: `www\.tiktok\.com`},
		{Category: "reels", Match: `instagram\.com/reel`},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tiktok", "reels"}, multi.Categories())
}

type countingResolver struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingResolver) Resolve(ctx context.Context, link string) (Result, error) {
	c.calls.Add(1)
	<-c.release
	if link == "fail" {
		return Result{}, errors.New("boom")
	}
	return Result{Kind: KindSlide, Images: []string{"https://i/1"}}, nil
}

func TestDeduplicatedCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()
	next := &countingResolver{release: make(chan struct{})}
	d := NewDeduplicated(next)

	const n = 5
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]Result, n)
	errs := make([]error, n)
	started.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = d.Resolve(context.Background(), "https://tiktok.com/a")
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Less(t, next.calls.Load(), int32(n))
	results[0].Images[0] = "mutated"
	require.Equal(t, "https://i/1", results[1].Images[0], "callers must not share slices")
}

func TestDeduplicatedSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	next := &countingResolver{release: make(chan struct{})}
	d := NewDeduplicated(next)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Resolve(ctx, "https://tiktok.com/b")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := d.Resolve(context.Background(), "https://tiktok.com/b")
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(next.release)
	select {
	case out := <-second:
		require.NoError(t, out.err)
		require.Equal(t, []string{"https://i/1"}, out.res.Images)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	require.Equal(t, int32(1), next.calls.Load())
}
