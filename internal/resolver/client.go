// Package resolver turns a user-supplied link into downloadable media through an
// external resolution service.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linkrelay/pkg/logx"
)

var (
	ErrUnsupportedLink = errors.New("resolver: unsupported link")
	// ErrNoMedia means the service answered but the payload has nothing deliverable.
	ErrNoMedia = errors.New("resolver: no media in result")
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

type Kind int

const (
	KindVideo Kind = iota
	KindStory
	KindSlide
)

func (k Kind) String() string {
	switch k {
	case KindStory:
		return "story"
	case KindSlide:
		return "slide"
	default:
		return "video"
	}
}

// Result is a resolved link. Video results have Video (and usually Audio);
// slide results have Images.
type Result struct {
	Kind    Kind
	Video   string
	Images  []string
	Audio   string
	Caption string
}

// Resolver is implemented by Client and Deduplicated.
type Resolver interface {
	Resolve(ctx context.Context, link string) (Result, error)
}

type Options struct {
	// Endpoint is a URL prefix; the query-escaped link is appended.
	Endpoint string
	Timeout  time.Duration
	// SettleDelay is waited after each successful call.
	SettleDelay time.Duration
	HTTPClient  *http.Client
	Logger      logx.Logger
}

type Client struct {
	endpoint string
	http     *http.Client
	settle   time.Duration
	log      logx.Logger
}

func NewClient(opt Options) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opt.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		endpoint: strings.TrimSpace(opt.Endpoint),
		http:     hc,
		settle:   opt.SettleDelay,
		log:      log.With(logx.String("comp", "resolver")),
	}
}

// wire format of the resolution service
type response struct {
	Result *payload `json:"result"`
}

type payload struct {
	Images []any   `json:"images"`
	HDPlay string  `json:"hdplay"`
	Music  string  `json:"music"`
	Title  string  `json:"title"`
	Author *author `json:"author"`
}

type author struct {
	ID flexString `json:"id"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

func (c *Client) Resolve(ctx context.Context, link string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+url.QueryEscape(link), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", link, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("resolver returned HTTP %d", resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	res, err := parse(r.Result)
	if err != nil {
		return Result{}, err
	}
	c.log.Debug("link resolved",
		logx.String("kind", res.Kind.String()),
		logx.Int("images", len(res.Images)),
		logx.Bool("audio", res.Audio != ""),
		logx.Duration("took", time.Since(started)),
	)

	if c.settle > 0 {
		t := time.NewTimer(c.settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}
	return res, nil
}

func parse(p *payload) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: empty result", ErrNoMedia)
	}
	if len(p.Images) > 0 {
		images := make([]string, 0, len(p.Images))
		for _, v := range p.Images {
			if s, ok := v.(string); ok && strings.HasPrefix(s, "http") {
				images = append(images, s)
			}
		}
		if len(images) == 0 {
			return Result{}, fmt.Errorf("%w: no valid slide images", ErrNoMedia)
		}
		return Result{Kind: KindSlide, Images: images, Audio: p.Music, Caption: p.Title}, nil
	}
	if p.HDPlay == "" {
		return Result{}, fmt.Errorf("%w: no video", ErrNoMedia)
	}
	kind := KindVideo
	if p.Author != nil && strings.HasPrefix(string(p.Author.ID), "7") {
		kind = KindStory
	}
	return Result{Kind: kind, Video: p.HDPlay, Audio: p.Music, Caption: p.Title}, nil
}
