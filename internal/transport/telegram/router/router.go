// Package router fans inbound updates out to per-chat lanes and runs the
// middleware chain around the update handler.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "linkrelay/internal/runtime/supervisor"
	kit "linkrelay/internal/transport"
	"linkrelay/pkg/logx"
)

const (
	DefaultWorkers   = 64
	DefaultQueueSize = 64
)

// Request is one update plus the per-request context the middleware needs.
type Request struct {
	Update  kit.Update
	ChatID  int64
	FromID  int64
	Command string // "/name" for commands, "cb" for callbacks, "" otherwise
	ReqID   string
	Logger  logx.Logger
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return def
}

type Options struct {
	// Workers caps how many chats are handled at the same time. Each active chat gets
	// its own lane, so updates of one chat run strictly in arrival order while a slow
	// chat never holds up another.
	Workers int
	// QueueSize is the per-chat backlog.
	QueueSize int
	Timeout   time.Duration
	// Busy is called instead of the handler when the chat's lane is full or no lane is free.
	Busy func(ctx context.Context, up kit.Update)
}

type Router struct {
	handle  HandlerFunc
	log     logx.Logger
	workers int
	qsize   int
	busy    func(ctx context.Context, up kit.Update)
	timeout atomic.Int64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	dropped atomic.Uint64

	laneMu sync.Mutex
	lanes  map[int64]chan func()
}

func New(h HandlerFunc, log logx.Logger, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	r := &Router{
		handle:  h,
		log:     log.With(logx.String("comp", "telegram.router")),
		workers: opt.Workers,
		qsize:   opt.QueueSize,
		busy:    opt.Busy,
		lanes:   map[int64]chan func(){},
	}
	r.SetTimeout(opt.Timeout)
	return r
}

// SetTimeout changes the per-update timeout for updates enqueued from now on.
func (r *Router) SetTimeout(d time.Duration) { r.timeout.Store(int64(d)) }

// Supervisor returns the lane supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

// Dropped is the number of updates rejected because a lane was full or none was free.
func (r *Router) Dropped() uint64 { return r.dropped.Load() }

// ActiveChats is the number of chats with a running lane.
func (r *Router) ActiveChats() int {
	r.laneMu.Lock()
	defer r.laneMu.Unlock()
	return len(r.lanes)
}

// DispatchLoop reads updates until ctx is done or updates is closed, then lets the
// running lanes drain briefly before returning.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup, r.running = sup, true
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("max_chats", r.workers), logx.Int("queue_cap", r.qsize))
	defer func() {
		r.runMu.Lock()
		r.running = false
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("dispatcher stopped", logx.Uint64("dropped", r.dropped.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, sup, up)
		}
	}
}

// runLane runs the jobs of one chat until its queue is empty, then retires the lane.
// The emptiness check and the removal happen under laneMu, the same lock route
// enqueues under, so no job is left behind in a retired lane.
func (r *Router) runLane(chat int64, jobs chan func()) {
	for {
		r.laneMu.Lock()
		select {
		case job := <-jobs:
			r.laneMu.Unlock()
			r.runJob(chat, job)
		default:
			delete(r.lanes, chat)
			r.laneMu.Unlock()
			return
		}
	}
}

// runJob keeps a lane alive if a job panics past the middleware.
func (r *Router) runJob(chat int64, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router job", logx.Int64("chat_id", chat), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, sup *rtsup.Supervisor, up kit.Update) {
	req := r.newRequest(up)
	final := Chain(r.handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(time.Duration(r.timeout.Load())),
	)
	job := func() {
		_ = final(logx.IntoContext(ctx, req.Logger), req)
	}

	r.laneMu.Lock()
	jobs, ok := r.lanes[req.ChatID]
	if !ok && len(r.lanes) < r.workers {
		jobs, ok = make(chan func(), r.qsize), true
		r.lanes[req.ChatID] = jobs
		chat := req.ChatID
		sup.Go0("router.chat."+strconv.FormatInt(chat, 10), func(context.Context) { r.runLane(chat, jobs) })
	}
	queued := false
	if ok {
		select {
		case jobs <- job:
			queued = true
		default:
		}
	}
	r.laneMu.Unlock()

	if !queued {
		r.dropped.Add(1)
		req.Logger.Warn("chat lane full; update rejected", logx.Int("active_chats", r.ActiveChats()))
		if r.busy != nil {
			r.busy(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update) *Request {
	req := &Request{Update: up, ChatID: up.ChatKey(), ReqID: uuid.NewString()}
	switch {
	case up.Message != nil:
		req.FromID = up.Message.FromID
		if text := strings.TrimSpace(up.Message.Text()); strings.HasPrefix(text, "/") {
			req.Command = strings.Fields(text)[0]
		}
	case up.Callback != nil:
		req.FromID = up.Callback.FromID
		req.Command = "cb"
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return req
}
