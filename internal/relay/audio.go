package relay

import (
	"context"
	"errors"

	"linkrelay/internal/eventbus"
	"linkrelay/internal/storage"
	"linkrelay/internal/transport"
	"linkrelay/pkg/logx"
	"linkrelay/pkg/tgui"
)

// AudioOutcome records which steps of an audio callback happened.
type AudioOutcome struct {
	Found         bool
	Sent          bool
	Edited        bool
	SourceDeleted bool
	Audio         transport.MessageRef
}

// HandleCallback serves an audio button press. Repeated presses of the same key
// send the audio again; the link entry is never consumed.
//
// Order: send audio, swap the button on the delivery message for a URL button,
// then delete the callback's source message only when it is neither the delivery
// nor the new audio message.
func (s *Service) HandleCallback(ctx context.Context, cb *transport.Callback) (AudioOutcome, error) {
	var out AudioOutcome
	log := s.logFor(ctx).With(logx.String("key", cb.Data))

	link, err := s.store.GetAudioLink(ctx, cb.Data)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.answer(ctx, cb.ID, textAudioNotFound, true)
		return out, wrap(ErrNotFound, "audio lookup", err)
	case err != nil:
		log.Error("audio lookup failed", logx.Err(err))
		s.answer(ctx, cb.ID, textGenericError, true)
		return out, wrap(ErrCacheAccess, "audio lookup", err)
	}
	out.Found = true

	to := transport.ChatTarget{ChatID: link.ChatID}
	audio, err := s.tx.SendAudio(ctx, to, link.AudioRef, &transport.SendOptions{
		ParseMode: parseModeHTML,
		Caption:   tgui.Esc(s.caption).String(),
	})
	if err != nil {
		log.Warn("send audio failed", logx.Err(err))
		s.reply(ctx, to, textAudioSendFailed, "")
		s.answer(ctx, cb.ID, textGenericError, true)
		return out, wrap(ErrDelivery, "send audio", err)
	}
	out.Sent = true
	out.Audio = audio

	delivery := transport.MessageRef{ChatID: link.ChatID, MessageID: link.MessageID}
	if err := s.tx.EditButtons(ctx, delivery, []transport.Button{{Text: buttonAudioLink, URL: link.AudioRef}}); err != nil {
		log.Debug("replace audio button failed", logx.Int("message_id", link.MessageID), logx.Err(err))
	} else {
		out.Edited = true
	}

	if src := cb.MessageID; src != 0 && src != link.MessageID && src != audio.MessageID {
		if err := s.tx.DeleteMessage(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: src}); err != nil {
			log.Debug("delete callback source failed", logx.Int("message_id", src), logx.Err(err))
		} else {
			out.SourceDeleted = true
		}
	}

	s.answer(ctx, cb.ID, "", false)
	eventbus.Emit(s.bus, "audio.sent", "key", cb.Data, "chat_id", link.ChatID, "edited", out.Edited)
	return out, nil
}

func (s *Service) answer(ctx context.Context, id, text string, alert bool) {
	if err := s.tx.AnswerCallback(ctx, id, text, alert); err != nil {
		s.logFor(ctx).Debug("answer callback failed", logx.Err(err))
	}
}
