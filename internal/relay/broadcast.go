package relay

import (
	"context"
	"fmt"

	"linkrelay/internal/eventbus"
	"linkrelay/internal/storage"
	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
)

// BroadcastReport counts per-recipient outcomes. Failures are never retried.
type BroadcastReport struct {
	Total     int
	Delivered int
	Failed    int
	PinFailed int
}

// Broadcaster replays one payload to every known user, one recipient at a time.
type Broadcaster struct {
	tx    transport.Adapter
	users storage.Users
	log   logx.Logger
	bus   eventbus.Bus
}

func NewBroadcaster(tx transport.Adapter, users storage.Users, log logx.Logger, bus eventbus.Bus) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{tx: tx, users: users, log: log.With(logx.String("comp", "broadcast")), bus: bus}
}

// Run sends payload to a snapshot of the user registry and pins each delivered message.
// It only fails when the registry cannot be read.
func (b *Broadcaster) Run(ctx context.Context, payload transport.Payload) (BroadcastReport, error) {
	var rep BroadcastReport
	ids, err := b.users.ListUsers(ctx)
	if err != nil {
		return rep, wrap(ErrCacheAccess, "list users", err)
	}
	rep.Total = len(ids)

	for _, id := range ids {
		to := transport.ChatTarget{ChatID: id}
		ref, err := replay(ctx, b.tx, to, payload)
		if err != nil {
			rep.Failed++
			b.log.Debug("broadcast delivery failed", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		rep.Delivered++
		if err := b.tx.PinMessage(ctx, ref); err != nil {
			rep.PinFailed++
			b.log.Debug("broadcast pin failed", logx.Int64("chat_id", id), logx.Err(err))
		}
	}

	b.log.Info("broadcast finished",
		logx.String("kind", string(payload.Kind)),
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("pin_failed", rep.PinFailed),
	)
	eventbus.Emit(b.bus, "broadcast.done", "total", rep.Total, "delivered", rep.Delivered, "failed", rep.Failed)
	return rep, nil
}

// replay sends payload as the same content type. Media refs are platform file ids,
// captions are sent as plain text.
func replay(ctx context.Context, tx transport.Adapter, to transport.ChatTarget, p transport.Payload) (transport.MessageRef, error) {
	opt := &transport.SendOptions{Caption: p.Caption}
	switch p.Kind {
	case transport.PayloadText:
		return tx.SendText(ctx, to, p.Text, nil)
	case transport.PayloadPhoto:
		return tx.SendPhoto(ctx, to, p.FileRef, opt)
	case transport.PayloadVideo:
		return tx.SendVideo(ctx, to, p.FileRef, opt)
	case transport.PayloadDocument:
		return tx.SendDocument(ctx, to, p.FileRef, opt)
	default:
		return transport.MessageRef{}, fmt.Errorf("unsupported payload kind %q", p.Kind)
	}
}
