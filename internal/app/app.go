package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"linkrelay/internal/config"
	"linkrelay/internal/eventbus"
	"linkrelay/internal/observability/diag"
	"linkrelay/internal/relay"
	"linkrelay/internal/resolver"
	rtsup "linkrelay/internal/runtime/supervisor"
	"linkrelay/internal/scheduler"
	"linkrelay/internal/storage"
	kit "linkrelay/internal/transport"
	telegram "linkrelay/internal/transport/telegram/adapter"
	"linkrelay/internal/transport/telegram/router"
	"linkrelay/pkg/logx"
	"linkrelay/pkg/systemd"
)

const (
	digestJob     = "stats.digest"
	digestTimeout = 2 * time.Minute
	busyText      = "⏳ Bot sedang sibuk, coba lagi sebentar."
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	relay   *relay.Service
	router  *router.Router
	sched   *scheduler.Service
	sd      *systemd.Notifier

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(adapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), ad.SendLogLine)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	matcher, err := resolver.NewMatcher(patterns(cfg))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	res := resolver.NewDeduplicated(resolver.NewClient(resolverOptions(cfg, log.With(logx.String("comp", "resolver")))))

	var a *App
	svc, err := relay.New(relay.Deps{
		Transport: ad,
		Store:     store,
		Resolver:  res,
		Matcher:   matcher,
		Admins:    relay.NewAdminSet(cfg.Telegram.AdminIDs),
		Logger:    log,
		Bus:       bus,
		Go:        func(name string, fn func(context.Context)) { a.spawn(name, fn) },
	}, relayOptions(cfg, matcher.Categories()))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a = &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		relay:   svc,
		sched:   scheduler.New(schedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus),
		sd:      systemd.New(),
		updates: make(chan kit.Update, 256),
	}

	ropt := routerOptions(cfg)
	ropt.Busy = a.replyBusy
	a.router = router.New(func(ctx context.Context, req *router.Request) error {
		return svc.HandleUpdate(ctx, req.Update)
	}, log, ropt)

	if err := a.applyDigest(cfg.Scheduler.StatsDigest); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// applyDigest registers, replaces or removes the periodic stats digest.
func (a *App) applyDigest(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		if a.sched.Remove(digestJob) {
			a.log.Info("stats digest disabled")
		}
		return nil
	}
	return a.sched.Add(scheduler.Job{
		Name:    digestJob,
		Spec:    spec,
		Timeout: digestTimeout,
		Run: func(ctx context.Context) error {
			n, err := a.relay.SendDigest(ctx)
			a.log.Info("stats digest sent", logx.Int("admins", n))
			return err
		},
	})
}

// spawn runs a detached job under the app supervisor so shutdown cancels it.
func (a *App) spawn(name string, fn func(context.Context)) {
	if a.sup == nil {
		go fn(context.Background())
		return
	}
	a.sup.Go0(name, fn)
}

// replyBusy runs on the dispatch loop, so the reply itself is sent asynchronously.
func (a *App) replyBusy(ctx context.Context, up kit.Update) {
	go func() {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		var err error
		switch {
		case up.Callback != nil:
			err = a.adapter.AnswerCallback(c, up.Callback.ID, busyText, false)
		case up.Message != nil:
			_, err = a.adapter.SendText(c, kit.ChatTarget{ChatID: up.Message.ChatID}, busyText, nil)
		}
		if err != nil {
			a.log.Debug("busy reply failed", logx.Err(err))
		}
	}()
}

// counters feeds /healthz.
func (a *App) counters() map[string]any {
	out := map[string]any{
		"router_dropped": a.router.Dropped(),
		"sessions":       a.relay.Sessions().Len(),
	}
	if a.sup != nil {
		c := a.sup.Counters()
		out["app_active"], out["app_panics"] = c.Active, c.Panics
	}
	if rs := a.router.Supervisor(); rs != nil {
		out["router_panics"] = rs.Counters().Panics
	}
	return out
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Scheduler.StatsDigest); spec != "" {
		if err := a.sched.ValidateSpec(spec); err != nil {
			return fmt.Errorf("scheduler.stats_digest: %w", err)
		}
	}
	return nil
}

func (a *App) syncAdminCommands(ctx context.Context, admins []int64) {
	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.adapter.SetAdminCommands(c, admins, adminCommands); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("admin command menu not updated", logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	cfg := a.cfgm.Get()
	a.sup.Go0("telegram.commands", func(c context.Context) {
		a.syncAdminCommands(c, cfg.Telegram.AdminIDs)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config is applied.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if cfg.Debug.Enabled {
		srv := diag.New(diag.Config{Addr: cfg.Debug.Addr, Token: cfg.Debug.Token}, a.counters, a.log)
		// Diagnostics are optional; a bind failure is retried, never fatal.
		a.sup.GoRestart("diag.serve", srv.Serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	if sent, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.sd.RunWatchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	a.log.Info("app started", logx.Int("admins", len(cfg.Telegram.AdminIDs)), logx.Int("workers", cfg.Relay.Workers))
	return nil
}

// applyConfig pushes a validated config to the live components. Token, resolver and
// storage changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = a.sd.Reloading()
	defer func() { _, _ = a.sd.Ready() }()

	for _, s := range []string{"storage", "resolver", "debug"} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.Apply(logConfig(next))

	if !slices.Equal(prev.Telegram.AdminIDs, next.Telegram.AdminIDs) {
		a.relay.Admins().Replace(next.Telegram.AdminIDs)
		a.syncAdminCommands(ctx, next.Telegram.AdminIDs)
	}
	if prev.Relay != next.Relay {
		a.router.SetTimeout(handlerTimeout(next))
		a.log.Info("relay changes apply to timeouts now; batching and menu changes need a restart")
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(schedulerConfig(next))
	if err := a.applyDigest(next.Scheduler.StatsDigest); err != nil {
		a.log.Warn("stats digest not rescheduled", logx.Err(err))
	}
	switch {
	case wasEnabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Router workers still finishing an update may touch storage, so it closes after them.
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
