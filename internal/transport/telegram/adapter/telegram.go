package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "linkrelay/internal/runtime/supervisor"
	kit "linkrelay/internal/transport"
	"linkrelay/pkg/logx"
	"linkrelay/pkg/tgui"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// BotCommand is one entry of the client-side command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop, the drop reporter and the stop watcher.
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower than the poll loop.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram.adapter"))
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Username is the bot's @handle as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	forward := func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	}
	a.bot.Handle(tele.OnText, forward)
	a.bot.Handle(tele.OnPhoto, forward)
	a.bot.Handle(tele.OnVideo, forward)
	a.bot.Handle(tele.OnDocument, forward)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

// messageUpdate converts an inbound message. Unsupported content yields ok=false.
func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	switch {
	case m.Photo != nil:
		msg.Payload = kit.MediaPayload(kit.PayloadPhoto, m.Photo.FileID, m.Caption)
	case m.Video != nil:
		msg.Payload = kit.MediaPayload(kit.PayloadVideo, m.Video.FileID, m.Caption)
	case m.Document != nil:
		msg.Payload = kit.MediaPayload(kit.PayloadDocument, m.Document.FileID, m.Caption)
	case m.Text != "":
		msg.Payload = kit.TextPayload(m.Text)
	default:
		return kit.Update{}, false
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	out := &kit.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		MessageID: cb.Message.ID,
		Data:      cb.Data,
	}
	if cb.Sender != nil {
		out.FromID = cb.Sender.ID
	}
	return kit.Update{Kind: kit.UpdateCallback, Callback: out}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns while we are still running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(chanCap int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// fileFromRef treats http(s) refs as URLs Telegram fetches itself and anything else as a file id.
func fileFromRef(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.File{FileID: ref}
}

func sendOptions(opt *kit.SendOptions) (*tele.SendOptions, error) {
	if opt == nil {
		return &tele.SendOptions{}, nil
	}
	if err := tgui.CheckButtons(opt.Buttons); err != nil {
		return nil, err
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           tgui.Markup(opt.Buttons),
	}, nil
}

// caption leaves room for the ellipsis TruncRunes appends.
func caption(opt *kit.SendOptions) string {
	if opt == nil {
		return ""
	}
	return tgui.TruncRunes(opt.Caption, tgui.MaxCaptionRunes-1)
}

func (a *Adapter) send(ctx context.Context, to kit.ChatTarget, what any, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	so, err := sendOptions(opt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, so)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// SendText splits long texts; buttons ride on the first chunk and the first ref is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		o := opt
		if i > 0 && opt != nil {
			o = &kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
		}
		ref, err := a.send(ctx, to, chunk, o)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, ref string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, &tele.Photo{File: fileFromRef(ref), Caption: caption(opt)}, opt)
}

func (a *Adapter) SendVideo(ctx context.Context, to kit.ChatTarget, ref string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, &tele.Video{File: fileFromRef(ref), Caption: caption(opt)}, opt)
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, ref string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, &tele.Document{File: fileFromRef(ref), Caption: caption(opt)}, opt)
}

func (a *Adapter) SendAudio(ctx context.Context, to kit.ChatTarget, ref string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, &tele.Audio{File: fileFromRef(ref), Caption: caption(opt)}, opt)
}

// album builds the media group payload. Items keep their own captions.
func album(items []kit.MediaItem) (tele.Album, error) {
	if len(items) == 0 || len(items) > 10 {
		return nil, errors.New("media group needs 1..10 items")
	}
	out := make(tele.Album, 0, len(items))
	for _, it := range items {
		capt := tgui.TruncRunes(it.Caption, tgui.MaxCaptionRunes-1)
		switch it.Kind {
		case kit.MediaVideo:
			out = append(out, &tele.Video{File: fileFromRef(it.Ref), Caption: capt})
		default:
			out = append(out, &tele.Photo{File: fileFromRef(it.Ref), Caption: capt})
		}
	}
	return out, nil
}

func (a *Adapter) SendMediaGroup(ctx context.Context, to kit.ChatTarget, items []kit.MediaItem, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	al, err := album(items)
	if err != nil {
		return nil, err
	}
	so, err := sendOptions(opt)
	if err != nil {
		return nil, err
	}
	so.ReplyMarkup = nil // albums cannot carry a keyboard
	msgs, err := a.bot.SendAlbum(&tele.Chat{ID: to.ChatID}, al, so)
	if err != nil {
		return nil, err
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID})
	}
	return refs, nil
}

func editable(ref kit.MessageRef) *tele.Message {
	return &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(editable(ref))
}

func (a *Adapter) PinMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Pin(editable(ref), tele.Silent)
}

func (a *Adapter) EditButtons(ctx context.Context, ref kit.MessageRef, buttons []kit.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tgui.CheckButtons(buttons); err != nil {
		return err
	}
	markup := tgui.Markup(buttons)
	if markup == nil {
		markup = &tele.ReplyMarkup{}
	}
	_, err := a.bot.EditReplyMarkup(editable(ref), markup)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// SendLogLine is the chat sink for WARN+ log lines.
func (a *Adapter) SendLogLine(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// SetAdminCommands installs cmds as the command menu of each admin's private chat.
// It only calls Telegram when the admins or the commands changed.
func (a *Adapter) SetAdminCommands(ctx context.Context, adminIDs []int64, cmds []BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := commandsHash(adminIDs, cmds)
	if sum == a.menuHash {
		return nil
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: tgui.TruncRunes(d, 255)})
	}
	var errs []error
	for _, id := range adminIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: id}
		if err := a.bot.SetCommands(list, scope); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.menuHash = sum
	a.log.Info("admin commands updated", logx.Int("admins", len(adminIDs)), logx.Int("count", len(list)))
	return nil
}

func commandsHash(adminIDs []int64, cmds []BotCommand) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, id := range adminIDs {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
	}
	h.Write([]byte{0})
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
