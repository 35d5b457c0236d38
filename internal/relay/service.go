// Package relay is the delivery core: it resolves links through the cache or the
// resolver, delivers media, links audio buttons, runs admin broadcasts and reports stats.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkrelay/internal/eventbus"
	"linkrelay/internal/resolver"
	"linkrelay/internal/storage"
	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
	"linkrelay/pkg/tgui"
)

const (
	parseModeHTML = "HTML"

	DefaultMenuTTL      = 4 * time.Second
	DefaultBrandCaption = "Diunduh melalui: @iniuntukdonlotvidiotiktokbot"
	cleanupTimeout      = 10 * time.Second
)

type Deps struct {
	Transport transport.Adapter
	Store     storage.Store
	Resolver  resolver.Resolver
	Matcher   *resolver.Matcher
	Admins    *AdminSet
	Logger    logx.Logger
	Bus       eventbus.Bus

	// Now and AfterFunc are replaced by tests.
	Now       func() time.Time
	AfterFunc func(d time.Duration, fn func())
	// Go runs long jobs (broadcasts) off the update path. The app passes its supervisor.
	Go func(name string, fn func(ctx context.Context))
}

type Options struct {
	// Categories lists the supported link categories, in pattern order.
	Categories      []string
	MenuTTL         time.Duration
	StatsWindowDays int
	BrandCaption    string
	Dispatch        []DispatcherOption
}

type Service struct {
	tx       transport.Adapter
	store    storage.Store
	resolver resolver.Resolver
	matcher  *resolver.Matcher
	admins   *AdminSet
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
	after    func(d time.Duration, fn func())
	spawn    func(name string, fn func(ctx context.Context))

	categories []string
	menuTTL    time.Duration
	caption    string

	dispatcher  *Dispatcher
	sessions    *SessionStore
	broadcaster *Broadcaster
	stats       *Stats
}

func New(d Deps, o Options) (*Service, error) {
	if d.Transport == nil || d.Store == nil || d.Resolver == nil || d.Matcher == nil {
		return nil, errors.New("relay: transport, store, resolver and matcher are required")
	}
	if d.Admins == nil {
		d.Admins = NewAdminSet(nil)
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "relay"))
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.AfterFunc == nil {
		d.AfterFunc = func(dur time.Duration, fn func()) { time.AfterFunc(dur, fn) }
	}
	if d.Go == nil {
		d.Go = func(_ string, fn func(context.Context)) { go fn(context.Background()) }
	}
	if o.MenuTTL <= 0 {
		o.MenuTTL = DefaultMenuTTL
	}
	if strings.TrimSpace(o.BrandCaption) == "" {
		o.BrandCaption = DefaultBrandCaption
	}

	return &Service{
		tx:          d.Transport,
		store:       d.Store,
		resolver:    d.Resolver,
		matcher:     d.Matcher,
		admins:      d.Admins,
		log:         log,
		bus:         d.Bus,
		now:         d.Now,
		after:       d.AfterFunc,
		spawn:       d.Go,
		categories:  o.Categories,
		menuTTL:     o.MenuTTL,
		caption:     o.BrandCaption,
		dispatcher:  NewDispatcher(d.Transport, log, d.Bus, o.Dispatch...),
		sessions:    NewSessionStore(),
		broadcaster: NewBroadcaster(d.Transport, d.Store, log, d.Bus),
		stats:       NewStats(d.Store, o.Categories, o.StatsWindowDays, d.Now(), d.Now),
	}, nil
}

func (s *Service) Sessions() *SessionStore { return s.sessions }
func (s *Service) Stats() *Stats           { return s.stats }
func (s *Service) Admins() *AdminSet       { return s.admins }

func (s *Service) logFor(ctx context.Context) logx.Logger { return logx.FromContext(ctx, s.log) }

// AudioKey is the callback data of the audio button for an inbound message.
// It stays within Telegram's 64-byte callback_data limit.
func AudioKey(chatID int64, messageID int) string {
	return fmt.Sprintf("audio-%d-%d", chatID, messageID)
}

// HandleUpdate routes one inbound update. Callback outcomes are logged here.
func (s *Service) HandleUpdate(ctx context.Context, u transport.Update) error {
	switch {
	case u.Message != nil:
		return s.HandleMessage(ctx, u.Message)
	case u.Callback != nil:
		out, err := s.HandleCallback(ctx, u.Callback)
		s.logFor(ctx).Debug("callback handled",
			logx.Bool("found", out.Found), logx.Bool("sent", out.Sent),
			logx.Bool("edited", out.Edited), logx.Bool("source_deleted", out.SourceDeleted))
		return err
	}
	return nil
}

// HandleMessage processes one inbound message. Failures are reported to the chat
// before being returned; the returned error is for logging only.
func (s *Service) HandleMessage(ctx context.Context, m *transport.Message) error {
	log := s.logFor(ctx)
	to := transport.ChatTarget{ChatID: m.ChatID}

	if err := s.store.SaveUser(ctx, m.ChatID); err != nil {
		log.Warn("save user failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	cmd, isCmd := parseCommand(m.Text())
	admin := s.admins.Contains(m.FromID)

	if admin && s.sessions.Get(m.FromID) == AwaitingBroadcastPayload {
		if isCmd && cmd == "cancel" {
			s.sessions.Clear(m.FromID)
			s.reply(ctx, to, textBroadcastCancel, "")
			return nil
		}
		if s.sessions.Take(m.FromID, AwaitingBroadcastPayload) {
			return s.runBroadcast(ctx, to, m.Payload)
		}
	}

	if isCmd {
		switch cmd {
		case "broadcast", "stats", "cancel":
			if !admin {
				s.reply(ctx, to, textAdminOnly, "")
				return nil
			}
			return s.handleAdminCommand(ctx, to, m.FromID, cmd)
		}
	}

	text := strings.TrimSpace(m.Text())
	if !strings.HasPrefix(text, "http") {
		s.showMenu(ctx, to, m.ID)
		return nil
	}
	return s.handleLink(ctx, to, m.ID, text)
}

// parseCommand returns the lowercased command name of "/name" or "/name@bot".
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), name != ""
}

func (s *Service) handleAdminCommand(ctx context.Context, to transport.ChatTarget, admin int64, cmd string) error {
	switch cmd {
	case "broadcast":
		s.sessions.Set(admin, AwaitingBroadcastPayload)
		eventbus.Emit(s.bus, "session.awaiting", "admin_id", admin)
		s.reply(ctx, to, textBroadcastPrompt, "")
	case "stats":
		html, err := s.StatsHTML(ctx)
		if err != nil {
			s.reply(ctx, to, textStatsFailed, "")
			return err
		}
		s.reply(ctx, to, html, parseModeHTML)
	case "cancel":
		s.reply(ctx, to, textNothingToCancel, "")
	}
	return nil
}

// runBroadcast starts the broadcast and returns at once; the sender's chat gets the
// summary when it finishes.
func (s *Service) runBroadcast(ctx context.Context, to transport.ChatTarget, p transport.Payload) error {
	log := s.logFor(ctx)
	s.spawn("relay.broadcast", func(bctx context.Context) {
		bctx = logx.IntoContext(bctx, log)
		rep, err := s.broadcaster.Run(bctx, p)
		if err != nil {
			log.Warn("broadcast failed", logx.Err(err))
			s.reply(bctx, to, textUsersFailed, "")
			return
		}
		s.reply(bctx, to, broadcastSummaryHTML(rep), parseModeHTML)
	})
	return nil
}

// StatsHTML renders the current stats snapshot.
func (s *Service) StatsHTML(ctx context.Context) (string, error) {
	snap, err := s.stats.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return statsHTML(snap), nil
}

// SendDigest sends the stats block to every administrator. Per-admin failures are counted.
func (s *Service) SendDigest(ctx context.Context) (sent int, err error) {
	html, err := s.StatsHTML(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, id := range s.admins.List() {
		if _, e := s.tx.SendText(ctx, transport.ChatTarget{ChatID: id}, html, &transport.SendOptions{ParseMode: parseModeHTML}); e != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, e))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// showMenu sends the banner and removes it together with the user's message after menuTTL.
func (s *Service) showMenu(ctx context.Context, to transport.ChatTarget, userMsgID int) {
	ref, err := s.tx.SendText(ctx, to, menuHTML(s.categories), &transport.SendOptions{ParseMode: parseModeHTML})
	if err != nil {
		s.logFor(ctx).Warn("send menu failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return
	}
	log := s.logFor(ctx)
	s.after(s.menuTTL, func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		for _, r := range []transport.MessageRef{ref, {ChatID: to.ChatID, MessageID: userMsgID}} {
			if err := s.tx.DeleteMessage(cctx, r); err != nil {
				log.Debug("menu cleanup failed", logx.Int("message_id", r.MessageID), logx.Err(err))
			}
		}
	})
}

// reply sends a best-effort text message.
func (s *Service) reply(ctx context.Context, to transport.ChatTarget, text, parseMode string) {
	var opt *transport.SendOptions
	if parseMode != "" {
		opt = &transport.SendOptions{ParseMode: parseMode}
	}
	if _, err := s.tx.SendText(ctx, to, text, opt); err != nil {
		s.logFor(ctx).Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// handleLink is the primary flow: cache lookup, resolution on a miss, delivery, cache write.
// The waiting indicator is removed on every path.
func (s *Service) handleLink(ctx context.Context, to transport.ChatTarget, msgID int, link string) error {
	log := s.logFor(ctx).With(logx.String("link", link))

	waiting, werr := s.tx.SendText(ctx, to, waitingHTML(), &transport.SendOptions{ParseMode: parseModeHTML})
	if werr != nil {
		log.Warn("send waiting indicator failed", logx.Err(werr))
	} else {
		defer func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			defer cancel()
			if err := s.tx.DeleteMessage(cctx, waiting); err != nil {
				log.Debug("delete waiting indicator failed", logx.Err(err))
			}
		}()
	}

	cached, err := s.store.LookupResolution(ctx, link)
	switch {
	case err == nil:
		eventbus.Emit(s.bus, "cache.hit", "chat_id", to.ChatID, "link", link)
		return s.report(ctx, to, "", s.deliver(ctx, to, msgID, cached))
	case errors.Is(err, storage.ErrNotFound):
		eventbus.Emit(s.bus, "cache.miss", "chat_id", to.ChatID, "link", link)
	default:
		log.Error("cache lookup failed", logx.Err(err))
		s.reply(ctx, to, textCacheFailed, "")
		return wrap(ErrCacheAccess, "lookup", err)
	}

	category, err := s.matcher.Category(link)
	if err != nil {
		return s.report(ctx, to, "", wrap(ErrUnsupportedLink, "match", err))
	}

	res, err := s.resolver.Resolve(ctx, link)
	if err != nil {
		eventbus.Emit(s.bus, "resolve.failed", "chat_id", to.ChatID, "category", category)
		return s.report(ctx, to, category, wrap(ErrResolution, "resolve", err))
	}
	log.Debug("resolved", logx.String("kind", res.Kind.String()), logx.String("title", tgui.TruncRunes(res.Caption, 80)))
	eventbus.Emit(s.bus, "resolve.ok", "chat_id", to.ChatID, "category", category, "kind", res.Kind.String())

	if err := s.store.AppendRequest(ctx, category, s.now()); err != nil {
		log.Warn("request log append failed", logx.Err(err))
	}

	entry := storage.Resolution{
		Link:     link,
		Category: category,
		AudioRef: res.Audio,
		Caption:  s.caption,
	}
	if res.Kind == resolver.KindSlide {
		entry.Slides = res.Images
	} else {
		entry.MediaRef = res.Video
	}
	if err := s.deliver(ctx, to, msgID, entry); err != nil {
		return s.report(ctx, to, category, err)
	}

	// Delivery already succeeded; a failed write only means no caching this round.
	if err := s.store.StoreResolution(ctx, entry); err != nil {
		log.Warn("cache store failed", logx.Err(err))
		eventbus.Emit(s.bus, "cache.store_failed", "link", link)
	}
	return nil
}

// report tells the user why a link failed and returns err unchanged.
func (s *Service) report(ctx context.Context, to transport.ChatTarget, category string, err error) error {
	if err == nil {
		return nil
	}
	var html string
	switch {
	case errors.Is(err, ErrUnsupportedLink):
		html = unsupportedHTML(s.categories)
	case errors.Is(err, ErrResolution):
		html = resolutionFailedHTML(category)
	default:
		html = deliveryFailedHTML()
	}
	s.reply(ctx, to, html, parseModeHTML)
	return err
}

// deliver sends a cached or fresh resolution: slides through the dispatcher,
// videos with an audio button when audio exists.
func (s *Service) deliver(ctx context.Context, to transport.ChatTarget, msgID int, r storage.Resolution) error {
	caption := r.Caption
	if caption == "" {
		caption = s.caption
	}
	captionHTML := tgui.Esc(caption).String()

	if len(r.Slides) > 0 {
		items := make([]transport.MediaItem, 0, len(r.Slides))
		for _, ref := range r.Slides {
			items = append(items, transport.MediaItem{Kind: transport.MediaPhoto, Ref: ref})
		}
		rep, err := s.dispatcher.Dispatch(ctx, to, items, captionHTML)
		if err != nil {
			return wrap(ErrDelivery, "dispatch", err)
		}
		if !rep.Delivered() {
			return wrap(ErrDelivery, "dispatch", fmt.Errorf("all %d items failed", rep.ItemsFailed))
		}
		return nil
	}

	if r.MediaRef == "" {
		return wrap(ErrDelivery, "deliver", errors.New("cache entry has no media"))
	}
	key := AudioKey(to.ChatID, msgID)
	opt := &transport.SendOptions{ParseMode: parseModeHTML, Caption: captionHTML}
	if r.AudioRef != "" {
		opt.Buttons = []transport.Button{{Text: buttonAudio, Data: key}}
	}
	ref, err := s.tx.SendVideo(ctx, to, r.MediaRef, opt)
	if err != nil {
		return wrap(ErrDelivery, "send video", err)
	}
	if r.AudioRef == "" {
		return nil
	}
	link := storage.AudioLink{Key: key, AudioRef: r.AudioRef, ChatID: to.ChatID, MessageID: ref.MessageID}
	if err := s.store.PutAudioLink(ctx, link); err != nil {
		s.logFor(ctx).Warn("audio link store failed", logx.String("key", key), logx.Err(err))
		return nil
	}
	eventbus.Emit(s.bus, "audio.linked", "key", key, "message_id", ref.MessageID)
	return nil
}
